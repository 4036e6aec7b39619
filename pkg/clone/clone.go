// Package clone implements the UV-5R clone read/write protocol (C4 in
// SPEC_FULL.md): the 7-byte model handshake, block read/write, and the
// firmware-version probe used to identify a connected radio. Grounded on
// original_source/src/baofeng_logo_flasher/protocol/uv5rm_transport.py's
// UV5RMTransport (despite the filename, the original covers the classic
// UV-5R clone protocol) and boot_logo.py's read_radio_id.
package clone

import (
	"bytes"
	"time"

	"github.com/bf-radio-tools/flashcore/pkg/radioerr"
	"github.com/bf-radio-tools/flashcore/pkg/transport"
)

const (
	ackByte byte = 0x06

	// Main and auxiliary memory regions read during a full clone, and
	// the fixed offsets probed to identify firmware version and the
	// dropped-byte quirk some radios exhibit.
	MainRegionStart = 0x0000
	MainRegionSize  = 0x1800 // 6 KiB
	AuxRegionStart  = 0x1EC0
	AuxRegionSize   = 0x0140 // 320 bytes

	warmupAddr       = 0x1E80
	versionProbeAddr = 0x1EC0
	quirkProbeAddr   = 0x1FC0
	versionOffset    = 48
	versionLen       = 14 // bytes 48..62

	// QuirkSubrangeStart and QuirkSubrangeSize bound the 0x1FC0-0x2000
	// tail of the auxiliary region that radios with DroppedByteQuirk
	// must have read in 16-byte blocks instead of the normal 0x40.
	QuirkSubrangeStart uint16 = quirkProbeAddr
	QuirkSubrangeSize         = 0x40

	// QuirkBlockSize and NormalBlockSize are the block sizes to pass to
	// DownloadRegion for the quirk subrange, selected by
	// VersionProbe.DroppedByteQuirk.
	QuirkBlockSize  byte = 0x10
	NormalBlockSize byte = 0x40

	identPrefixLen = 8
)

// Driver talks the UV-5R clone protocol over an already-open transport.
type Driver struct {
	T           *transport.Transport
	HandshakeMagic []byte
	ReadTimeout time.Duration
	firstBlock  bool
}

// NewDriver returns a Driver that handshakes with the given model magic
// (7 bytes for the UV-5R family).
func NewDriver(t *transport.Transport, magic []byte) *Driver {
	return &Driver{T: t, HandshakeMagic: magic, ReadTimeout: 2 * time.Second, firstBlock: true}
}

// Handshake sends the model-specific magic one byte at a time with a 10ms
// pace (some clones drop bytes sent back-to-back), then expects 0x06,
// sends 0x02, reads an 8-or-12-byte identification block terminated by
// 0xDD, acks it with 0x06, and expects a second 0x06.
func (d *Driver) Handshake() ([]byte, error) {
	for _, b := range d.HandshakeMagic {
		if err := d.T.WriteAll([]byte{b}); err != nil {
			return nil, err
		}
		time.Sleep(10 * time.Millisecond)
	}
	ack, err := d.T.ReadExact(1, d.ReadTimeout)
	if err != nil {
		return nil, radioerr.New(radioerr.KindNoContact, "radio did not respond to handshake magic", "")
	}
	if ack[0] != ackByte {
		return nil, radioerr.New(radioerr.KindNoContact, "radio sent unexpected handshake acknowledgement", "")
	}
	if err := d.T.WriteAll([]byte{0x02}); err != nil {
		return nil, err
	}
	ident, err := d.T.ReadUntilByte(0xDD, 12, d.ReadTimeout)
	if err != nil {
		return nil, err
	}
	if len(ident) != 8 && len(ident) != 12 {
		return nil, radioerr.New(radioerr.KindFraming, "identification block has unexpected length", "")
	}
	if ident[0] != 0xAA || ident[len(ident)-1] != 0xDD {
		return nil, radioerr.New(radioerr.KindFraming, "identification block missing start/end markers", "")
	}
	if len(ident) == 12 {
		ident = filterIdentBlock(ident)
	}
	if err := d.T.WriteAll([]byte{ackByte}); err != nil {
		return nil, err
	}
	ack2, err := d.T.ReadExact(1, d.ReadTimeout)
	if err != nil {
		return nil, err
	}
	if ack2[0] != ackByte {
		return nil, radioerr.New(radioerr.KindProtocolViolation, "radio did not confirm handshake completion", "")
	}
	d.firstBlock = true
	return ident, nil
}

// filterIdentBlock strips the 0x01 filler bytes some radios pad the
// 12-byte identification response with, then truncates to the standard
// 8-byte form.
func filterIdentBlock(ident []byte) []byte {
	filtered := make([]byte, 0, 8)
	for _, b := range ident {
		if b != 0x01 {
			filtered = append(filtered, b)
		}
	}
	if len(filtered) > 8 {
		filtered = filtered[:8]
	}
	return filtered
}

// ReadBlock reads size bytes starting at addr. Every call but the first
// since the handshake waits for a 0x06 ACK before sending the read
// command, matching the original transport's behavior.
func (d *Driver) ReadBlock(addr uint16, size byte) ([]byte, error) {
	if !d.firstBlock {
		ack, err := d.T.ReadExact(1, d.ReadTimeout)
		if err != nil {
			return nil, err
		}
		if ack[0] != ackByte {
			return nil, radioerr.New(radioerr.KindProtocolViolation, "radio did not ACK before block read", "")
		}
	}
	cmd := append([]byte{'S'}, byte(addr>>8), byte(addr))
	cmd = append(cmd, size)
	if err := d.T.WriteAll(cmd); err != nil {
		return nil, err
	}
	header, err := d.T.ReadExact(4, d.ReadTimeout)
	if err != nil {
		return nil, err
	}
	wantHeader := append([]byte{'X'}, byte(addr>>8), byte(addr))
	wantHeader = append(wantHeader, size)
	if !bytes.Equal(header, wantHeader) {
		return nil, radioerr.New(radioerr.KindFraming, "block read header mismatch", "")
	}
	data, err := d.T.ReadExact(int(size), d.ReadTimeout)
	if err != nil {
		return nil, err
	}
	if err := d.T.WriteAll([]byte{ackByte}); err != nil {
		return nil, err
	}
	time.Sleep(50 * time.Millisecond)
	d.firstBlock = false
	return data, nil
}

// WriteBlock writes data (len(data) bytes) to addr and waits for an ACK.
func (d *Driver) WriteBlock(addr uint16, data []byte) error {
	cmd := append([]byte{'X'}, byte(addr>>8), byte(addr))
	cmd = append(cmd, byte(len(data)))
	cmd = append(cmd, data...)
	if err := d.T.WriteAll(cmd); err != nil {
		return err
	}
	ack, err := d.T.ReadExact(1, d.ReadTimeout)
	if err != nil {
		return err
	}
	if ack[0] != ackByte {
		return radioerr.New(radioerr.KindProtocolViolation, "radio did not ACK block write", "")
	}
	return nil
}

// VersionProbe is the result of reading the warm-up, version, and quirk
// probe blocks used to identify a connected UV-5R-family radio.
type VersionProbe struct {
	Version    string
	DroppedByteQuirk bool
}

// ProbeVersion reads the three fixed offsets the original tooling uses to
// identify firmware revision and a known byte-dropping quirk some clone
// radios exhibit.
func (d *Driver) ProbeVersion() (*VersionProbe, error) {
	if _, err := d.ReadBlock(warmupAddr, 0x40); err != nil {
		return nil, err
	}
	verBlock, err := d.ReadBlock(versionProbeAddr, 0x40)
	if err != nil {
		return nil, err
	}
	if len(verBlock) < versionOffset+versionLen {
		return nil, radioerr.New(radioerr.KindTruncated, "version probe block too short", "")
	}
	version := string(bytes.TrimRight(verBlock[versionOffset:versionOffset+versionLen], "\x00 "))

	quirkBlock, err := d.ReadBlock(quirkProbeAddr, 0x40)
	if err != nil {
		return nil, err
	}
	quirk := len(quirkBlock) > 15 && quirkBlock[15] == 0xFF

	return &VersionProbe{Version: version, DroppedByteQuirk: quirk}, nil
}

// ImageByteIndex returns the offset within a full clone image buffer
// (which is prefixed by an 8-byte identification header) corresponding
// to device address addr.
func ImageByteIndex(addr uint32) int { return int(addr) + identPrefixLen }

// DownloadRegion reads a device memory region in blockSize chunks and
// returns the concatenated bytes.
func (d *Driver) DownloadRegion(start uint16, length int, blockSize byte) ([]byte, error) {
	out := make([]byte, 0, length)
	for read := 0; read < length; read += int(blockSize) {
		n := int(blockSize)
		if read+n > length {
			n = length - read
		}
		block, err := d.ReadBlock(start+uint16(read), byte(n))
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}
	return out, nil
}

// UploadRegion writes image data to a device memory region in blockSize
// chunks starting at start.
func (d *Driver) UploadRegion(start uint16, data []byte, blockSize byte) error {
	for off := 0; off < len(data); off += int(blockSize) {
		end := off + int(blockSize)
		if end > len(data) {
			end = len(data)
		}
		if err := d.WriteBlock(start+uint16(off), data[off:end]); err != nil {
			return err
		}
	}
	return nil
}
