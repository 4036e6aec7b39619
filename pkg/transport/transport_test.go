package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadExactAccumulatesPartialReads(t *testing.T) {
	tr := &Transport{port: &chunkedPort{chunks: [][]byte{{0x01}, {0x02, 0x03}}}}
	got, err := tr.ReadExact(3, 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, got)
}

func TestReadExactTimesOutWhenStarved(t *testing.T) {
	tr := &Transport{port: &chunkedPort{chunks: nil}}
	_, err := tr.ReadExact(4, 10*time.Millisecond)
	require.Error(t, err)
}

func TestReadUntilByteStopsAtTerminator(t *testing.T) {
	tr := &Transport{port: &chunkedPort{chunks: [][]byte{{0xAA}, {0x01, 0x02}, {0xDD}, {0x99}}}}
	got, err := tr.ReadUntilByte(0xDD, 16, 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0x01, 0x02, 0xDD}, got)
}

func TestReadUntilByteFailsWhenScanExhausted(t *testing.T) {
	tr := &Transport{port: &chunkedPort{chunks: [][]byte{{0x01, 0x02, 0x03, 0x04}}}}
	_, err := tr.ReadUntilByte(0xDD, 3, 50*time.Millisecond)
	require.Error(t, err)
}

func TestWriteAllRejectsShortWrite(t *testing.T) {
	tr := &Transport{port: &shortWritePort{}}
	err := tr.WriteAll([]byte{1, 2, 3})
	require.Error(t, err)
}

// chunkedPort yields at most one queued chunk per Read call, keeping any
// bytes that did not fit p for the next Read (zero bytes after chunks
// drain, matching a port with no more pending bytes).
type chunkedPort struct {
	chunks [][]byte
}

func (c *chunkedPort) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, nil
	}
	next := c.chunks[0]
	n := copy(p, next)
	if n < len(next) {
		c.chunks[0] = next[n:]
	} else {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}
func (c *chunkedPort) Write(p []byte) (int, error)        { return len(p), nil }
func (c *chunkedPort) SetReadTimeout(d time.Duration) error { return nil }
func (c *chunkedPort) SetRTS(v bool) error                 { return nil }
func (c *chunkedPort) SetDTR(v bool) error                 { return nil }
func (c *chunkedPort) Close() error                        { return nil }

type shortWritePort struct{}

func (s *shortWritePort) Read(p []byte) (int, error)         { return 0, nil }
func (s *shortWritePort) Write(p []byte) (int, error)        { return len(p) - 1, nil }
func (s *shortWritePort) SetReadTimeout(d time.Duration) error { return nil }
func (s *shortWritePort) SetRTS(v bool) error                 { return nil }
func (s *shortWritePort) SetDTR(v bool) error                 { return nil }
func (s *shortWritePort) Close() error                        { return nil }
