// Command test-decode decodes telemetry frames given as hex strings and
// prints what the bridge would extract from them. Handy when sniffing
// the bike's notification stream with a BLE debugger.
//
// Usage:
//
//	go run ./cmd/test-decode 0a57 0700eb ee00000000000000
package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/chaz8081/hyena-bridge/internal/ble/protocol"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: test-decode <hex frame> [<hex frame>...]")
		fmt.Println("Example: test-decode 0a57 0700eb ee00000000000000")
		os.Exit(1)
	}

	for _, arg := range os.Args[1:] {
		raw, err := hex.DecodeString(strings.ReplaceAll(arg, ":", ""))
		if err != nil {
			fmt.Printf("%-20s invalid hex: %v\n", arg, err)
			continue
		}

		reading, ok := protocol.Decode(raw)
		switch {
		case ok:
			fmt.Printf("%-20s %s\n", arg, reading)
		case bytes.Equal(raw, protocol.FrameDelimiter):
			fmt.Printf("%-20s frame delimiter\n", arg)
		case len(raw) > 0:
			fmt.Printf("%-20s %s (not decoded)\n", arg, protocol.TagName(raw[0]))
		default:
			fmt.Printf("%-20s empty frame\n", arg)
		}
	}
}
