package a5logo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bf-radio-tools/flashcore/pkg/transport"
)

// queuedPort is a fake serial port that, on each Write, enqueues the next
// canned response frame for subsequent Reads to drain -- enough to drive
// one request/response exchange per Write without a real device.
type queuedPort struct {
	responses [][]byte
	buf       []byte
}

func (q *queuedPort) Write(p []byte) (int, error) {
	if len(q.responses) > 0 {
		q.buf = append(q.buf, q.responses[0]...)
		q.responses = q.responses[1:]
	}
	return len(p), nil
}

func (q *queuedPort) Read(p []byte) (int, error) {
	if len(q.buf) == 0 {
		return 0, nil
	}
	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	return n, nil
}

func (q *queuedPort) SetReadTimeout(d time.Duration) error { return nil }
func (q *queuedPort) SetRTS(v bool) error                  { return nil }
func (q *queuedPort) SetDTR(v bool) error                  { return nil }
func (q *queuedPort) Close() error                         { return nil }

func TestPackParseFrameRoundTrip(t *testing.T) {
	f := frame{Cmd: cmdConfig, Addr: 0x4504, Payload: []byte{0x00, 0x00, 0x29, 0x00, 0x00, 0x01}}
	raw := packFrame(f)
	require.Equal(t, byte(0xA5), raw[0])
	parsed, err := parseFrame(raw)
	require.NoError(t, err)
	require.Equal(t, f.Cmd, parsed.Cmd)
	require.Equal(t, f.Addr, parsed.Addr)
	require.Equal(t, f.Payload, parsed.Payload)
}

func TestParseFrameRejectsBadCRC(t *testing.T) {
	f := frame{Cmd: cmdInit, Addr: 0, Payload: []byte("PROGRAM")}
	raw := packFrame(f)
	raw[len(raw)-1] ^= 0xFF
	_, err := parseFrame(raw)
	require.Error(t, err)
}

func TestParseFrameRejectsMissingSyncByte(t *testing.T) {
	f := frame{Cmd: cmdInit, Addr: 0, Payload: []byte("PROGRAM")}
	raw := packFrame(f)
	raw[0] = 0x00
	_, err := parseFrame(raw)
	require.Error(t, err)
}

func TestFrameByteLenMatchesPackedLength(t *testing.T) {
	f := frame{Cmd: cmdWrite, Addr: 0x1000, Payload: make([]byte, ChunkSize)}
	raw := packFrame(f)
	require.Equal(t, frameByteLen(ChunkSize), len(raw))
}

func TestImageChunkCountFor160x128RGB565(t *testing.T) {
	const imgLen = 160 * 128 * 2 // 40960 bytes
	chunks := (imgLen + ChunkSize - 1) / ChunkSize
	require.Equal(t, 41, chunks) // 40 full chunks of 1004 + one 800-byte tail
}

func TestCRC16XModemKnownVector(t *testing.T) {
	// CRC-16/XMODEM of ASCII "123456789" is the well known 0x31C3.
	got := crc16XModem([]byte("123456789"))
	require.Equal(t, uint16(0x31C3), got)
}

func TestWriteImageAcceptsDedicatedAckByte(t *testing.T) {
	ack := packFrame(frame{Cmd: cmdWriteAck, Addr: 0, Payload: nil})
	port := &queuedPort{responses: [][]byte{ack}}
	u := NewUploader(transport.NewTestTransport(port))
	err := u.WriteImage(0, make([]byte, ChunkSize))
	require.NoError(t, err)
}

func TestWriteImageAcceptsEchoedWriteCommandStartingWithY(t *testing.T) {
	ack := packFrame(frame{Cmd: cmdWrite, Addr: 0, Payload: []byte("Y")})
	port := &queuedPort{responses: [][]byte{ack}}
	u := NewUploader(transport.NewTestTransport(port))
	err := u.WriteImage(0, make([]byte, ChunkSize))
	require.NoError(t, err)
}

func TestWriteImageRejectsEchoedWriteCommandNotStartingWithY(t *testing.T) {
	ack := packFrame(frame{Cmd: cmdWrite, Addr: 0, Payload: []byte("N")})
	port := &queuedPort{responses: [][]byte{ack}}
	u := NewUploader(transport.NewTestTransport(port))
	err := u.WriteImage(0, make([]byte, ChunkSize))
	require.Error(t, err)
}
