// radioflash is a minimal command-line entry point exercising the
// workflow actions in pkg/actions. It deliberately stays thin -- a full
// CLI with subcommands, port auto-detection, and log capture is out of
// scope (see SPEC_FULL.md's non-goals); this binary exists to prove the
// library wires together end to end, in the flag-parsed style of the
// teacher's cmd/bluetooth-service/main.go.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/bf-radio-tools/flashcore/pkg/actions"
	"github.com/bf-radio-tools/flashcore/pkg/safety"
	"github.com/bf-radio-tools/flashcore/pkg/telemetry"
	"github.com/bf-radio-tools/flashcore/pkg/transport"
)

var (
	op           = flag.String("op", "", "operation: read-clone, flash-firmware")
	serialDevice = flag.String("serial", "/dev/ttyUSB0", "serial device path")
	baudRate     = flag.Int("baud", 9600, "serial baud rate")
	rtscts       = flag.Bool("rtscts", true, "RTS/CTS flow-control setting passed in transport.Config (not applied when the port is opened)")
	model        = flag.String("model", "", "radio model name, e.g. UV-5RM")
	firmwarePath = flag.String("firmware", "", "path to a .BF firmware package")
	writeEnable  = flag.Bool("write", false, "enable writes to the device")
	confirmToken = flag.String("confirm", "", `confirmation token; must be "WRITE"`)
	simulate     = flag.Bool("simulate", false, "dry run: validate without touching the device")
	redisAddr    = flag.String("redis-addr", "", "optional telemetry Redis address, e.g. localhost:6379")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	var sink *telemetry.Sink
	if *redisAddr != "" {
		s, err := telemetry.NewSink(*redisAddr, "", 0)
		if err != nil {
			log.Printf("telemetry disabled: %v", err)
		} else {
			sink = s
			defer sink.Close()
		}
	}

	cfg := transport.Config{Port: *serialDevice, BaudRate: *baudRate, RTSCTS: *rtscts}
	safetyCtx := safety.Context{
		Simulate:          *simulate,
		WriteEnabled:      *writeEnable,
		ConfirmationToken: *confirmToken,
		Interactive:       true,
		Prompt:            promptStdin,
	}

	switch *op {
	case "read-clone":
		r, _, err := actions.ReadClone(cfg, sink)
		fmt.Println(r.Summary())
		if err != nil {
			os.Exit(1)
		}
	case "flash-firmware":
		if *firmwarePath == "" {
			log.Fatalf("-firmware is required for flash-firmware")
		}
		data, err := os.ReadFile(*firmwarePath)
		if err != nil {
			log.Fatalf("failed to read firmware package: %v", err)
		}
		r, err := actions.FlashFirmwareBF(cfg, *model, data, 0x08000000, false, safetyCtx, sink)
		fmt.Println(r.Summary())
		if err != nil {
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func promptStdin(message string) string {
	fmt.Print(message)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}
