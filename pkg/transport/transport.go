// Package transport implements the raw serial byte I/O shared by every
// protocol driver in this module (C1 in SPEC_FULL.md). It wraps
// go.bug.st/serial -- already a direct dependency in the teacher repo's
// go.mod but unused by its code, which instead configured ports once at
// open time via github.com/tarm/serial. That API cannot toggle RTS/DTR
// after open or vary the read deadline per call, both of which the radio
// protocols require (a 5ms junk-drain alongside multi-second block reads),
// so this package uses go.bug.st/serial directly instead.
package transport

import (
	"encoding/hex"
	"log"
	"time"

	"github.com/bf-radio-tools/flashcore/pkg/radioerr"
	"go.bug.st/serial"
)

// Config configures how a port is opened. RTSCTS records whether the radio
// family uses hardware flow control (the UV-5R family at 9600 baud does,
// UV-17/DM-32UV at 115200 baud do not); Open does not apply it, and every
// port is opened without hardware flow control.
type Config struct {
	Port     string
	BaudRate int
	RTSCTS   bool
}

// serialPort is the slice of go.bug.st/serial.Port this package actually
// uses. Keeping it narrow (rather than embedding serial.Port directly)
// lets transport_test.go exercise the read/retry logic with an in-memory
// fake instead of a real device.
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(d time.Duration) error
	SetRTS(v bool) error
	SetDTR(v bool) error
	Close() error
}

// Transport is a single open serial port. It is not safe for concurrent
// use from multiple goroutines -- the concurrency model in SPEC_FULL.md
// §5 gives each operation exclusive ownership of the port for its
// duration.
type Transport struct {
	port   serialPort
	cfg    Config
	cur    time.Duration
	closed bool
}

// Open opens the configured port, asserts DTR and RTS high (every radio
// family does this per SPEC_FULL.md §4.1), and performs an initial short
// drain so stale bytes from a previous session don't corrupt the next
// handshake.
func Open(cfg Config) (*Transport, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, radioerr.Wrap(radioerr.KindIO, "cannot open serial port", err)
	}
	if err := p.SetRTS(true); err != nil {
		p.Close()
		return nil, radioerr.Wrap(radioerr.KindIO, "cannot assert RTS", err)
	}
	if err := p.SetDTR(true); err != nil {
		p.Close()
		return nil, radioerr.Wrap(radioerr.KindIO, "cannot assert DTR", err)
	}
	t := &Transport{port: p, cfg: cfg}
	_, _ = t.Drain(5 * time.Millisecond)
	return t, nil
}

// Close releases the underlying port. Safe to call more than once.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return radioerr.Wrap(radioerr.KindIO, "error closing serial port", err)
	}
	return nil
}

// SetControlLines sets DTR and RTS independently, for protocols that need
// to toggle them mid-operation.
func (t *Transport) SetControlLines(dtr, rts bool) error {
	if err := t.port.SetDTR(dtr); err != nil {
		return radioerr.Wrap(radioerr.KindIO, "cannot set DTR", err)
	}
	if err := t.port.SetRTS(rts); err != nil {
		return radioerr.Wrap(radioerr.KindIO, "cannot set RTS", err)
	}
	return nil
}

func (t *Transport) setTimeout(d time.Duration) error {
	if d == t.cur {
		return nil
	}
	if err := t.port.SetReadTimeout(d); err != nil {
		return radioerr.Wrap(radioerr.KindIO, "cannot set read timeout", err)
	}
	t.cur = d
	return nil
}

// WriteAll writes every byte of data, failing if the port accepts fewer
// bytes than requested rather than silently truncating.
func (t *Transport) WriteAll(data []byte) error {
	log.Printf("TX: %s", hex.EncodeToString(data))
	n, err := t.port.Write(data)
	if err != nil {
		return radioerr.Wrap(radioerr.KindIO, "serial write failed", err)
	}
	if n != len(data) {
		return radioerr.New(radioerr.KindIO, "incomplete serial write",
			"wrote fewer bytes than requested")
	}
	return nil
}

// ReadExact reads exactly n bytes within the given timeout, or fails with
// KindTimeout. Partial reads accumulate across multiple underlying Read
// calls; a zero-byte Read means the port's read timeout expired with
// nothing pending and is reported as KindTimeout at once.
func (t *Transport) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if err := t.setTimeout(timeout); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return out, radioerr.New(radioerr.KindTimeout, "serial read timed out",
				"")
		}
		read, err := t.port.Read(buf[:n-len(out)])
		if err != nil {
			return out, radioerr.Wrap(radioerr.KindIO, "serial read failed", err)
		}
		if read == 0 {
			return out, radioerr.New(radioerr.KindTimeout, "radio did not respond",
				"timeout waiting for bytes")
		}
		out = append(out, buf[:read]...)
	}
	log.Printf("RX: %s", hex.EncodeToString(out))
	return out, nil
}

// ReadUntilByte reads bytes one at a time until b is seen or maxScan bytes
// have been read, whichever comes first. Used by the clone protocol's
// identification read, which has no fixed length but a known terminator.
func (t *Transport) ReadUntilByte(b byte, maxScan int, timeout time.Duration) ([]byte, error) {
	if err := t.setTimeout(timeout); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	out := make([]byte, 0, maxScan)
	one := make([]byte, 1)
	for len(out) < maxScan {
		if time.Now().After(deadline) {
			return out, radioerr.New(radioerr.KindTimeout, "serial read timed out", "")
		}
		n, err := t.port.Read(one)
		if err != nil {
			return out, radioerr.Wrap(radioerr.KindIO, "serial read failed", err)
		}
		if n == 0 {
			continue
		}
		out = append(out, one[0])
		if one[0] == b {
			log.Printf("RX (until terminator): %s", hex.EncodeToString(out))
			return out, nil
		}
	}
	return out, radioerr.New(radioerr.KindFraming, "terminator byte not found",
		"scanned maxScan bytes without seeing the expected terminator")
}

// Drain discards any bytes currently pending in the input buffer, using a
// short timeout so it returns promptly even if the port is quiet. Called
// before every handshake per SPEC_FULL.md §4.1.
func (t *Transport) Drain(timeout time.Duration) (int, error) {
	if err := t.setTimeout(timeout); err != nil {
		return 0, err
	}
	buf := make([]byte, 256)
	total := 0
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n, err := t.port.Read(buf)
		if err != nil {
			return total, nil
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}
