// Package dm32pic implements the DM-32UV "PowerOnPicture" protocol (C7 in
// SPEC_FULL.md): a long preflight handshake followed by streamed W-packet
// writes. Grounded on
// original_source/src/baofeng_logo_flasher/protocol/dm32uv_picture_protocol.py's
// DM32UVPictureUploader.
package dm32pic

import (
	"encoding/binary"
	"time"

	"github.com/bf-radio-tools/flashcore/pkg/radioerr"
	"github.com/bf-radio-tools/flashcore/pkg/transport"
)

const ackByte byte = 0x06

// BinHeader is the 8-byte header of a vendor .BIN picture file. The wire
// protocol only ever sends the RGB565 payload, never this header --
// VendorBinMagic identifies files that carry it so callers can strip it
// before uploading.
type BinHeader struct {
	Magic  uint16
	Width  uint16
	Height uint16
}

// VendorBinMagic is the fixed magic value DM-32UV vendor .BIN picture
// files begin with.
const VendorBinMagic uint16 = 0x1000

// ParseBinHeader reads the 8-byte vendor .BIN header (magic, width,
// height, 2 reserved bytes, all little-endian) and returns the RGB565
// payload that follows it.
func ParseBinHeader(data []byte) (BinHeader, []byte, error) {
	if len(data) < 8 {
		return BinHeader{}, nil, radioerr.New(radioerr.KindTruncated, ".BIN header truncated", "")
	}
	h := BinHeader{
		Magic:  binary.LittleEndian.Uint16(data[0:2]),
		Width:  binary.LittleEndian.Uint16(data[2:4]),
		Height: binary.LittleEndian.Uint16(data[4:6]),
	}
	if h.Magic != VendorBinMagic {
		return BinHeader{}, nil, radioerr.New(radioerr.KindFormat, "unexpected .BIN magic", "")
	}
	return h, data[8:], nil
}

// EncodeBinHeader serializes h back into its 8-byte wire form with the 2
// reserved trailing bytes zeroed.
func EncodeBinHeader(h BinHeader) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint16(out[0:2], VendorBinMagic)
	binary.LittleEndian.PutUint16(out[2:4], h.Width)
	binary.LittleEndian.PutUint16(out[4:6], h.Height)
	return out
}

// Uploader drives the DM-32UV picture protocol over an already-open
// transport. BaseAddr defaults to 0 (see SPEC_FULL.md's open-question
// decision) and is exported so a future model variant can override it.
type Uploader struct {
	T           *transport.Transport
	BaseAddr    uint32
	ReadTimeout time.Duration
	MaxRetries  int
}

func NewUploader(t *transport.Transport) *Uploader {
	return &Uploader{T: t, BaseAddr: 0, ReadTimeout: 3 * time.Second, MaxRetries: 5}
}

func (u *Uploader) expectAckByte() error {
	b, err := u.T.ReadExact(1, u.ReadTimeout)
	if err != nil {
		return err
	}
	if b[0] != ackByte {
		return radioerr.New(radioerr.KindProtocolViolation, "expected ACK byte not received", "")
	}
	return nil
}

// search retries sending "PSEARCH" until an 8-byte reply starting with
// 0x06 arrives, up to MaxRetries times -- some DM-32UV units need several
// attempts before they answer.
func (u *Uploader) search() error {
	var lastErr error
	for i := 0; i <= u.MaxRetries; i++ {
		if err := u.T.WriteAll([]byte("PSEARCH")); err != nil {
			return err
		}
		resp, err := u.T.ReadExact(8, u.ReadTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		if resp[0] == ackByte {
			return nil
		}
		lastErr = radioerr.New(radioerr.KindNoContact, "unexpected PSEARCH response", "")
	}
	return lastErr
}

func (u *Uploader) passSta() error {
	if err := u.T.WriteAll([]byte("PASSSTA")); err != nil {
		return err
	}
	resp, err := u.T.ReadExact(8, u.ReadTimeout)
	if err != nil {
		return err
	}
	if resp[0] != ackByte {
		return radioerr.New(radioerr.KindNoContact, "unexpected PASSSTA response", "")
	}
	return nil
}

const sizedQueryMagic byte = 0x56

// sizedQuery sends cmd and reads a 3-byte header followed by header[2]
// more bytes, checking that the header starts with sizedQueryMagic
// (0x56). There is no response terminator to validate -- header[2]
// alone determines how many trailing bytes to read.
func (u *Uploader) sizedQuery(cmd []byte) ([]byte, error) {
	if err := u.T.WriteAll(cmd); err != nil {
		return nil, err
	}
	header, err := u.T.ReadExact(3, u.ReadTimeout)
	if err != nil {
		return nil, err
	}
	if header[0] != sizedQueryMagic {
		return nil, radioerr.New(radioerr.KindProtocolViolation, "unexpected sized query response header", "")
	}
	rest, err := u.T.ReadExact(int(header[2]), u.ReadTimeout)
	if err != nil {
		return nil, err
	}
	return append(header, rest...), nil
}

// Preflight runs the full handshake sequence the DM-32UV bootloader
// requires before it will accept picture data: device search, auth
// status, two sized status queries, a 0x47 info query expecting a fixed
// 0x106-byte response starting with 'S', a reset pulse, and finally the
// PROGRAM command.
func (u *Uploader) Preflight() error {
	if err := u.search(); err != nil {
		return err
	}
	if err := u.passSta(); err != nil {
		return err
	}
	if _, err := u.sizedQuery([]byte{0x56, 0x00, 0x00, 0x40, 0x0D}); err != nil {
		return err
	}
	if _, err := u.sizedQuery([]byte{0x56, 0x00, 0x00, 0x00, 0x0E}); err != nil {
		return err
	}
	if err := u.T.WriteAll([]byte{0x47, 0x00, 0x00, 0x00, 0x00, 0x01}); err != nil {
		return err
	}
	info, err := u.T.ReadExact(0x106, u.ReadTimeout)
	if err != nil {
		return err
	}
	if info[0] != 'S' {
		return radioerr.New(radioerr.KindProtocolViolation, "unexpected info query response", "")
	}
	if err := u.T.WriteAll([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0C}); err != nil {
		return err
	}
	if err := u.T.WriteAll([]byte("PROGRAM")); err != nil {
		return err
	}
	if err := u.expectAckByte(); err != nil {
		return err
	}
	if err := u.T.WriteAll([]byte{0x02}); err != nil {
		return err
	}
	// some firmware revisions ack the mode-select byte, some don't;
	// both are accepted.
	_ = u.expectAckByte()
	return nil
}

// WritePacketSize is the maximum chunk of picture data sent per W-packet.
const WritePacketSize = 0x1000

// SendPayload streams the RGB565 picture payload in W-packets
// (0x57 | addr24 little-endian | len16 little-endian | chunk), each
// followed by a single 0x06 ACK read.
func (u *Uploader) SendPayload(payload []byte) error {
	for off := 0; off < len(payload); off += WritePacketSize {
		end := off + WritePacketSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[off:end]
		addr := u.BaseAddr + uint32(off)
		pkt := make([]byte, 0, 1+3+2+len(chunk))
		pkt = append(pkt, 0x57)
		pkt = append(pkt, byte(addr), byte(addr>>8), byte(addr>>16))
		pkt = append(pkt, byte(len(chunk)), byte(len(chunk)>>8))
		pkt = append(pkt, chunk...)
		if err := u.T.WriteAll(pkt); err != nil {
			return err
		}
		if err := u.expectAckByte(); err != nil {
			return err
		}
	}
	return nil
}

// UploadPicture runs Preflight followed by SendPayload.
func (u *Uploader) UploadPicture(payload []byte) error {
	if err := u.Preflight(); err != nil {
		return err
	}
	return u.SendPayload(payload)
}
