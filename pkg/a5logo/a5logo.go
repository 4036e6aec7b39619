// Package a5logo implements the A5-framed boot-logo upload protocol used
// by the UV-5RM and UV-17 family (C5 in SPEC_FULL.md). Grounded on
// original_source/src/baofeng_logo_flasher/protocol/logo_protocol.py's
// LogoUploader state machine and frame constants.
package a5logo

import (
	"encoding/binary"
	"time"

	"github.com/bf-radio-tools/flashcore/pkg/radioerr"
	"github.com/bf-radio-tools/flashcore/pkg/transport"
)

const (
	frameMagic byte = 0xA5

	cmdInit     byte = 0x02
	cmdSetup    byte = 0x03
	cmdConfig   byte = 0x04
	cmdComplete byte = 0x06
	cmdWrite    byte = 0x57
	cmdWriteAck byte = 0xEE

	// ChunkSize is the payload size of every write frame but the last,
	// which is zero-padded to this size.
	ChunkSize = 1004

	enterLogoByte byte = 'D'
)

// HandshakeMagic is sent verbatim to wake the bootloader before any
// framed command is exchanged.
var HandshakeMagic = []byte("PROGRAMBFNORMALU")

// DefaultConfigByte is the third byte of the setup/config frame payload
// observed across every UV-17-family firmware revision. Kept
// configurable rather than hard-coded per SPEC_FULL.md's open-question
// decision -- a future model revision with a different value doesn't
// need a new code path, only a different Uploader.ConfigByte.
const DefaultConfigByte byte = 0x29

// frame is one A5-wrapped command exchanged in either direction.
type frame struct {
	Cmd     byte
	Addr    uint16
	Payload []byte
}

func packFrame(f frame) []byte {
	body := make([]byte, 0, 1+2+2+len(f.Payload))
	body = append(body, f.Cmd)
	body = append(body, byte(f.Addr>>8), byte(f.Addr))
	body = append(body, byte(len(f.Payload)>>8), byte(len(f.Payload)))
	body = append(body, f.Payload...)
	crc := crc16XModem(body)
	out := make([]byte, 0, 1+len(body)+2)
	out = append(out, frameMagic)
	out = append(out, body...)
	out = append(out, byte(crc>>8), byte(crc))
	return out
}

func parseFrame(data []byte) (frame, error) {
	if len(data) < 1+1+2+2+2 {
		return frame{}, radioerr.New(radioerr.KindTruncated, "A5 frame too short", "")
	}
	if data[0] != frameMagic {
		return frame{}, radioerr.New(radioerr.KindFraming, "A5 frame missing sync byte", "")
	}
	body := data[1 : len(data)-2]
	wantCRC := crc16XModem(body)
	gotCRC := binary.BigEndian.Uint16(data[len(data)-2:])
	if wantCRC != gotCRC {
		return frame{}, radioerr.New(radioerr.KindFraming, "A5 frame CRC mismatch", "")
	}
	cmd := body[0]
	addr := binary.BigEndian.Uint16(body[1:3])
	plen := int(binary.BigEndian.Uint16(body[3:5]))
	if len(body) < 5+plen {
		return frame{}, radioerr.New(radioerr.KindTruncated, "A5 frame payload shorter than declared", "")
	}
	return frame{Cmd: cmd, Addr: addr, Payload: body[5 : 5+plen]}, nil
}

// frameByteLen returns the total wire length of a frame with the given
// payload length, so callers know how many bytes to read before parsing.
func frameByteLen(payloadLen int) int { return 1 + 1 + 2 + 2 + payloadLen + 2 }

func crc16XModem(data []byte) uint16 {
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

// Uploader drives the A5 logo protocol over an already-open transport.
type Uploader struct {
	T          *transport.Transport
	ConfigByte byte
	ReadTimeout time.Duration
}

// NewUploader returns an Uploader with the standard config byte and a
// 2-second per-exchange read timeout.
func NewUploader(t *transport.Transport) *Uploader {
	return &Uploader{T: t, ConfigByte: DefaultConfigByte, ReadTimeout: 2 * time.Second}
}

func (u *Uploader) exchange(f frame, expectCmd byte) (frame, error) {
	return u.exchangeAny(f, expectCmd)
}

// frameHeaderLen is the fixed-size portion of every frame that precedes
// the payload: sync byte, cmd, big-endian address, big-endian length.
const frameHeaderLen = 1 + 1 + 2 + 2

// exchangeAny sends f and accepts a response whose command is any of
// expectCmds. The header declares the true payload length; the
// payload+CRC trailer is read once that length is known.
func (u *Uploader) exchangeAny(f frame, expectCmds ...byte) (frame, error) {
	if err := u.T.WriteAll(packFrame(f)); err != nil {
		return frame{}, err
	}
	header, err := u.T.ReadExact(frameHeaderLen, u.ReadTimeout)
	if err != nil {
		return frame{}, err
	}
	plen := int(binary.BigEndian.Uint16(header[4:6]))
	rest, err := u.T.ReadExact(plen+2, u.ReadTimeout)
	if err != nil {
		return frame{}, err
	}
	raw := append(header, rest...)
	resp, err := parseFrame(raw)
	if err != nil {
		return frame{}, err
	}
	for _, want := range expectCmds {
		if resp.Cmd == want {
			return resp, nil
		}
	}
	return frame{}, radioerr.New(radioerr.KindProtocolViolation, "unexpected A5 response command",
		"radio responded with a different command byte than expected")
}

// Handshake wakes the bootloader: sends the 16-byte magic and expects a
// raw 0x06 byte back, then sends the single enter-logo-mode byte and
// waits out the settle delay the bootloader needs before it will accept
// framed commands.
func (u *Uploader) Handshake() error {
	if err := u.T.WriteAll(HandshakeMagic); err != nil {
		return err
	}
	ack, err := u.T.ReadExact(1, u.ReadTimeout)
	if err != nil {
		return err
	}
	if ack[0] != cmdComplete {
		return radioerr.New(radioerr.KindNoContact, "bootloader did not acknowledge handshake", "")
	}
	if err := u.T.WriteAll([]byte{enterLogoByte}); err != nil {
		return err
	}
	time.Sleep(200 * time.Millisecond)
	return nil
}

// Init sends the init frame and expects a cmd-0x02 reply whose payload
// starts with 'Y'.
func (u *Uploader) Init() error {
	resp, err := u.exchange(frame{Cmd: cmdInit, Addr: 0, Payload: []byte("PROGRAM")}, cmdInit)
	if err != nil {
		return err
	}
	if len(resp.Payload) == 0 || resp.Payload[0] != 'Y' {
		return radioerr.New(radioerr.KindProtocolViolation, "radio rejected init frame", "")
	}
	return nil
}

// Config sends the per-region config frame (target address plus the
// configurable tuning byte).
func (u *Uploader) Config(regionAddr uint32) error {
	_, err := u.exchange(frame{
		Cmd:  cmdConfig,
		Addr: uint16(regionAddr),
		Payload: []byte{0x00, 0x00, u.ConfigByte, 0x00, 0x00, 0x01},
	}, cmdConfig)
	return err
}

// Setup sends the setup frame that precedes the chunked write sequence.
func (u *Uploader) Setup() error {
	_, err := u.exchange(frame{
		Cmd:     cmdSetup,
		Addr:    0,
		Payload: []byte{0x00, 0x00, u.ConfigByte, 0x00},
	}, cmdSetup)
	return err
}

// WriteImage streams image data to the device in ChunkSize-byte frames
// at monotonically increasing offsets from baseAddr, zero-padding the
// final chunk. Each chunk's ack is either a bare cmd=0xEE (any payload)
// or a cmd=0x57 reply whose payload starts with 'Y' -- some firmware
// revisions echo the write command itself instead of the dedicated ack
// byte.
func (u *Uploader) WriteImage(baseAddr uint32, image []byte) error {
	for off := 0; off < len(image); off += ChunkSize {
		end := off + ChunkSize
		var chunk []byte
		if end > len(image) {
			chunk = make([]byte, ChunkSize)
			copy(chunk, image[off:])
		} else {
			chunk = image[off:end]
		}
		addr := baseAddr + uint32(off)
		resp, err := u.exchangeAny(frame{Cmd: cmdWrite, Addr: uint16(addr), Payload: chunk}, cmdWriteAck, cmdWrite)
		if err != nil {
			return err
		}
		if resp.Cmd == cmdWrite && (len(resp.Payload) == 0 || resp.Payload[0] != 'Y') {
			return radioerr.New(radioerr.KindProtocolViolation, "radio rejected write chunk", "")
		}
	}
	return nil
}

// Complete sends the completion frame. Some firmware revisions reply
// with nothing at all or an all-zero frame; both are treated as success,
// matching the original tooling's tolerance here.
func (u *Uploader) Complete() error {
	if err := u.T.WriteAll(packFrame(frame{Cmd: cmdComplete, Addr: 0, Payload: []byte("Over")})); err != nil {
		return err
	}
	raw, err := u.T.ReadExact(frameByteLen(0), 500*time.Millisecond)
	if err != nil {
		// no response at all is tolerated
		return nil
	}
	allZero := true
	for _, b := range raw {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil
	}
	return nil
}

// ImageBaseAddr is the fixed offset write frames are addressed from --
// distinct from the per-region configAddr passed to Config, which names
// the logo region itself rather than an image-write cursor.
const ImageBaseAddr uint32 = 0x0000

// UploadLogo runs the full protocol sequence: handshake, init, config
// (addressed at configAddr, the target logo region), setup, chunked
// write (addressed from ImageBaseAddr, not configAddr), completion.
func (u *Uploader) UploadLogo(configAddr uint32, image []byte) error {
	if err := u.Handshake(); err != nil {
		return err
	}
	if err := u.Init(); err != nil {
		return err
	}
	if err := u.Config(configAddr); err != nil {
		return err
	}
	if err := u.Setup(); err != nil {
		return err
	}
	if err := u.WriteImage(ImageBaseAddr, image); err != nil {
		return err
	}
	return u.Complete()
}
