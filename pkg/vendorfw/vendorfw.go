// Package vendorfw implements the CRC16/CCITT-framed firmware update
// protocol vendor flashing tools use to push a .BF package onto the
// device's bootloader (C6 in SPEC_FULL.md). Grounded on
// original_source/src/baofeng_logo_flasher/firmware_tools.py's
// VendorFirmwareFlasher, pack/unpack_vendor_packet, and
// analyze_firmware_vector_table.
package vendorfw

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/bf-radio-tools/flashcore/pkg/radioerr"
	"github.com/bf-radio-tools/flashcore/pkg/transport"
)

const (
	frameStart byte = 0xAA
	frameEnd   byte = 0xEF
)

// Command bytes exchanged with the bootloader.
const (
	CmdIntoBoot            byte = 0x42
	CmdHandshake           byte = 0x01
	CmdUpdateDataPackages  byte = 0x04
	CmdUpdate              byte = 0x03
	CmdUpdateDataPackages2 byte = 0x05
	CmdUpdateEnd           byte = 0x45
)

// Device error codes, returned in the cmd_args byte of a response frame
// when cmd_args != successArgs.
const (
	ErrHandshake  byte = 0xE1 // 225
	ErrDataCheck  byte = 0xE2 // 226, retriable
	ErrAddress    byte = 0xE3 // 227
	ErrFlashWrite byte = 0xE4 // 228
	ErrCommand    byte = 0xE5 // 229
)

const successArgs byte = 6

// HandshakePayload is sent with CmdHandshake to confirm the bootloader
// is awake and ready to receive commands.
var HandshakePayload = []byte("BOOTLOADER")

type packet struct {
	Cmd     byte
	Args    byte
	Payload []byte
}

func packPacket(p packet) []byte {
	body := make([]byte, 0, 2+2+len(p.Payload))
	body = append(body, p.Cmd, p.Args)
	body = append(body, byte(len(p.Payload)>>8), byte(len(p.Payload)))
	body = append(body, p.Payload...)
	crc := crc16CCITT(body)
	out := make([]byte, 0, 1+len(body)+2+1)
	out = append(out, frameStart)
	out = append(out, body...)
	out = append(out, byte(crc>>8), byte(crc))
	out = append(out, frameEnd)
	return out
}

func parsePacket(data []byte) (packet, error) {
	if len(data) < 1+2+2+2+1 {
		return packet{}, radioerr.New(radioerr.KindTruncated, "vendor packet too short", "")
	}
	if data[0] != frameStart || data[len(data)-1] != frameEnd {
		return packet{}, radioerr.New(radioerr.KindFraming, "vendor packet missing frame delimiters", "")
	}
	body := data[1 : len(data)-3]
	wantCRC := crc16CCITT(body)
	gotCRC := binary.BigEndian.Uint16(data[len(data)-3 : len(data)-1])
	if wantCRC != gotCRC {
		return packet{}, radioerr.New(radioerr.KindFraming, "vendor packet CRC mismatch", "")
	}
	if len(body) < 4 {
		return packet{}, radioerr.New(radioerr.KindTruncated, "vendor packet body too short", "")
	}
	plen := int(binary.BigEndian.Uint16(body[2:4]))
	if len(body) < 4+plen {
		return packet{}, radioerr.New(radioerr.KindTruncated, "vendor packet payload shorter than declared", "")
	}
	return packet{Cmd: body[0], Args: body[1], Payload: body[4 : 4+plen]}, nil
}

func packetByteLen(payloadLen int) int { return 1 + 2 + 2 + payloadLen + 2 + 1 }

func crc16CCITT(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Flasher drives the vendor update protocol over an already-open
// transport, after the device has already been placed into its
// bootloader (either via CmdIntoBoot or by the user holding a button
// combo at power-on).
type Flasher struct {
	T           *transport.Transport
	ReadTimeout time.Duration
	MaxRetries  int
}

func NewFlasher(t *transport.Transport) *Flasher {
	return &Flasher{T: t, ReadTimeout: 3 * time.Second, MaxRetries: 5}
}

func (f *Flasher) readPacket() (packet, error) {
	header, err := f.T.ReadExact(5, f.ReadTimeout)
	if err != nil {
		return packet{}, err
	}
	plen := int(binary.BigEndian.Uint16(header[3:5]))
	rest, err := f.T.ReadExact(plen+3, f.ReadTimeout)
	if err != nil {
		return packet{}, err
	}
	return parsePacket(append(header, rest...))
}

func (f *Flasher) command(cmd, args byte, payload []byte) (packet, error) {
	var lastErr error
	for attempt := 0; attempt <= f.MaxRetries; attempt++ {
		if err := f.T.WriteAll(packPacket(packet{Cmd: cmd, Args: args, Payload: payload})); err != nil {
			return packet{}, err
		}
		resp, err := f.readPacket()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Args == successArgs {
			return resp, nil
		}
		if resp.Args == ErrDataCheck {
			lastErr = deviceError(resp.Args)
			continue
		}
		return packet{}, deviceError(resp.Args)
	}
	return packet{}, lastErr
}

func deviceError(code byte) error {
	var title, detail string
	switch code {
	case ErrHandshake:
		title, detail = "bootloader handshake rejected", ""
	case ErrDataCheck:
		title, detail = "firmware data check failed", "retriable"
	case ErrAddress:
		title, detail = "bootloader rejected flash address", ""
	case ErrFlashWrite:
		title, detail = "flash write failed on device", ""
	case ErrCommand:
		title, detail = "bootloader rejected command", ""
	default:
		title, detail = "bootloader returned an unrecognized error code", ""
	}
	return radioerr.New(radioerr.KindDeviceError, title, detail)
}

// EnterBootloader issues the reboot-to-bootloader command. The device is
// expected to drop the serial connection immediately after acking, so
// callers typically re-open the port after a short delay.
func (f *Flasher) EnterBootloader() error {
	_, err := f.command(CmdIntoBoot, 0, nil)
	return err
}

// Handshake confirms the bootloader is present and ready.
func (f *Flasher) Handshake() error {
	_, err := f.command(CmdHandshake, 0, HandshakePayload)
	return err
}

// PackageSize is the fixed chunk size the vendor update protocol sends
// firmware data in; the final chunk of a region is padded with 0xFF out
// to this length rather than sent short.
const PackageSize = 1024

func packageCount(regionLen, packageSize int) int {
	if regionLen == 0 {
		return 0
	}
	return (regionLen + packageSize - 1) / packageSize
}

// streamPackages sends region in packageSize chunks as CmdUpdate packets,
// args set to the chunk index, padding the final short chunk out to a full
// packageSize with 0xFF (not 0x00).
func (f *Flasher) streamPackages(region []byte, packageSize int) error {
	count := packageCount(len(region), packageSize)
	for i := 0; i < count; i++ {
		off := i * packageSize
		end := off + packageSize
		var chunk []byte
		if end > len(region) {
			chunk = make([]byte, packageSize)
			for j := range chunk {
				chunk[j] = 0xFF
			}
			copy(chunk, region[off:])
		} else {
			chunk = region[off:end]
		}
		if _, err := f.command(CmdUpdate, byte(i), chunk); err != nil {
			return err
		}
	}
	return nil
}

// StreamBF sends both .BF regions through the vendor update protocol:
// CmdUpdateDataPackages announces region1's package count, followed by
// its chunks; CmdUpdateDataPackages2 announces region2's package count
// (sent even when region2 is empty) followed by its chunks; a single
// CmdUpdateEnd finalizes the whole transfer once both regions have been
// sent, not once per region.
func (f *Flasher) StreamBF(region1, region2 []byte, packageSize int) error {
	if packageSize <= 0 {
		packageSize = PackageSize
	}
	pkg1 := packageCount(len(region1), packageSize)
	if _, err := f.command(CmdUpdateDataPackages, 0, []byte{byte(pkg1)}); err != nil {
		return err
	}
	if err := f.streamPackages(region1, packageSize); err != nil {
		return err
	}
	pkg2 := packageCount(len(region2), packageSize)
	if _, err := f.command(CmdUpdateDataPackages2, 0, []byte{byte(pkg2)}); err != nil {
		return err
	}
	if err := f.streamPackages(region2, packageSize); err != nil {
		return err
	}
	_, err := f.command(CmdUpdateEnd, 0, nil)
	return err
}

// VectorTableReport is the outcome of sanity-checking a firmware image's
// ARM Cortex-M vector table, returned alongside the two words it was
// computed from so callers can surface them in diagnostics.
type VectorTableReport struct {
	Plausible bool
	Reason    string
	SP        uint32
	Reset     uint32
}

// AnalyzeVectorTable sanity-checks the first 8 bytes of image as an ARM
// Cortex-M vector table: word 0 is the initial stack pointer, expected
// within SRAM ([0x20000000, 0x20080000)); word 1 is the reset handler
// address, which must have its Thumb bit set and point within
// [startAddress, startAddress+min(len(image), 60KiB)).
func AnalyzeVectorTable(image []byte, startAddress uint32) (VectorTableReport, error) {
	if len(image) < 8 {
		return VectorTableReport{}, radioerr.New(radioerr.KindTruncated, "image too short to contain a vector table", "")
	}
	sp := binary.LittleEndian.Uint32(image[0:4])
	reset := binary.LittleEndian.Uint32(image[4:8])
	report := VectorTableReport{SP: sp, Reset: reset}

	if sp < 0x20000000 || sp >= 0x20080000 {
		report.Reason = "initial stack pointer is not within SRAM"
		return report, nil
	}
	if reset&1 == 0 {
		report.Reason = "reset handler address is not Thumb (bit 0 clear)"
		return report, nil
	}
	limit := len(image)
	if limit > 60*1024 {
		limit = 60 * 1024
	}
	resetAddr := reset &^ 1
	if resetAddr < startAddress || resetAddr >= startAddress+uint32(limit) {
		report.Reason = "reset handler address is outside the expected flash window"
		return report, nil
	}
	report.Plausible = true
	return report, nil
}

// DumperSignatures are ASCII markers observed in firmware-extraction
// tooling rather than genuine radio firmware; flashing one back would
// brick the device, so callers should refuse by default when one is
// found.
var DumperSignatures = [][]byte{
	[]byte("FLASH DUMPER"),
	[]byte("BD4VOW"),
	[]byte("FLASHDUMPER"),
	[]byte("DUMPER BY"),
	[]byte("BOOTLOADER ***"),
}

// MinFirmwareSize is the floor below which an image is almost certainly
// not a complete firmware dump, absent an explicit override.
const MinFirmwareSize = 10 * 1024

// DetectDumperSignatures scans image for every marker in DumperSignatures
// present, returning the matched ones by name (so a refusal message or
// OperationResult.Warnings entry can list all of them, not just the
// first).
func DetectDumperSignatures(image []byte) []string {
	var found []string
	for _, sig := range DumperSignatures {
		if bytes.Contains(image, sig) {
			found = append(found, string(sig))
		}
	}
	return found
}
