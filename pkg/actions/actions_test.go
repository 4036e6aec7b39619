package actions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bf-radio-tools/flashcore/pkg/clone"
	"github.com/bf-radio-tools/flashcore/pkg/safety"
	"github.com/bf-radio-tools/flashcore/pkg/transport"
)

// fakeClonePort is a fake serial port scripted with the exact response
// bytes a simulated UV-5R-family radio would send back, in read order,
// for a planned sequence of block reads.
type fakeClonePort struct {
	writes [][]byte
	buf    []byte
}

func (p *fakeClonePort) Write(b []byte) (int, error) {
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakeClonePort) Read(b []byte) (int, error) {
	if len(p.buf) == 0 {
		return 0, nil
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

func (p *fakeClonePort) SetReadTimeout(d time.Duration) error { return nil }
func (p *fakeClonePort) SetRTS(v bool) error                  { return nil }
func (p *fakeClonePort) SetDTR(v bool) error                  { return nil }
func (p *fakeClonePort) Close() error                         { return nil }

type cloneBlockPlan struct {
	addr uint16
	size byte
}

func planBlocks(start uint16, length int, blockSize byte) []cloneBlockPlan {
	var plan []cloneBlockPlan
	for read := 0; read < length; read += int(blockSize) {
		n := int(blockSize)
		if read+n > length {
			n = length - read
		}
		plan = append(plan, cloneBlockPlan{addr: start + uint16(read), size: byte(n)})
	}
	return plan
}

// scriptCloneReads builds the response byte stream ReadBlock expects for
// the given block plan: a pre-ack byte before every block but the first
// (ReadBlock only skips the pre-ack on a driver's very first read), then
// each block's 'X'+addr+size header and size bytes of dummy data.
func scriptCloneReads(plan []cloneBlockPlan) []byte {
	var buf []byte
	for i, blk := range plan {
		if i > 0 {
			buf = append(buf, 0x06)
		}
		buf = append(buf, 'X', byte(blk.addr>>8), byte(blk.addr), blk.size)
		buf = append(buf, make([]byte, blk.size)...)
	}
	return buf
}

func TestDownloadAuxRegionUsesNormalBlockSizeWithoutQuirk(t *testing.T) {
	normalPlan := planBlocks(clone.AuxRegionStart, int(clone.QuirkSubrangeStart-clone.AuxRegionStart), clone.NormalBlockSize)
	quirkPlan := planBlocks(clone.QuirkSubrangeStart, clone.QuirkSubrangeSize, clone.NormalBlockSize)
	plan := append(normalPlan, quirkPlan...)

	port := &fakeClonePort{buf: scriptCloneReads(plan)}
	driver := clone.NewDriver(transport.NewTestTransport(port), nil)
	aux, err := downloadAuxRegion(driver, &clone.VersionProbe{DroppedByteQuirk: false})
	require.NoError(t, err)
	require.Len(t, aux, clone.AuxRegionSize)
	require.Len(t, port.writes, 2*len(plan))

	lastCmd := port.writes[2*(len(plan)-1)]
	require.Equal(t, clone.NormalBlockSize, lastCmd[3])
}

func TestDownloadAuxRegionUsesQuirkBlockSizeWhenFlagged(t *testing.T) {
	normalPlan := planBlocks(clone.AuxRegionStart, int(clone.QuirkSubrangeStart-clone.AuxRegionStart), clone.NormalBlockSize)
	quirkPlan := planBlocks(clone.QuirkSubrangeStart, clone.QuirkSubrangeSize, clone.QuirkBlockSize)
	plan := append(normalPlan, quirkPlan...)

	port := &fakeClonePort{buf: scriptCloneReads(plan)}
	driver := clone.NewDriver(transport.NewTestTransport(port), nil)
	aux, err := downloadAuxRegion(driver, &clone.VersionProbe{DroppedByteQuirk: true})
	require.NoError(t, err)
	require.Len(t, aux, clone.AuxRegionSize)
	require.Len(t, port.writes, 2*len(plan))

	for _, w := range port.writes[2*len(normalPlan):] {
		if w[0] == 'S' {
			require.Equal(t, clone.QuirkBlockSize, w[3])
		}
	}
}

func TestFlashLogoA5RejectsUnknownModel(t *testing.T) {
	_, err := FlashLogoA5(transport.Config{}, "NOT-A-REAL-MODEL", nil, safety.Context{Simulate: true}, nil)
	require.Error(t, err)
}

func TestFlashLogoA5RejectsWrongImageLength(t *testing.T) {
	_, err := FlashLogoA5(transport.Config{}, "UV-5RM", make([]byte, 10), safety.Context{Simulate: true}, nil)
	require.Error(t, err)
}

func TestFlashLogoA5DeniedWithoutWritePermission(t *testing.T) {
	img := make([]byte, 160*128*2)
	_, err := FlashLogoA5(transport.Config{}, "UV-5RM", img, safety.Context{WriteEnabled: false}, nil)
	require.Error(t, err)
}

func TestFlashLogoCloneRejectsUnknownModel(t *testing.T) {
	_, err := FlashLogoClone(transport.Config{}, "NOT-A-REAL-MODEL", nil, 0, safety.Context{Simulate: true}, nil)
	require.Error(t, err)
}

func TestFlashLogoCloneRejectsModelWithoutWriteCloneCapability(t *testing.T) {
	// UV-5RM flashes its logo over the A5 protocol, not the clone
	// protocol, so it carries no CapWriteClone.
	_, err := FlashLogoClone(transport.Config{}, "UV-5RM", make([]byte, 16), 0x1E00, safety.Context{Simulate: true}, nil)
	require.Error(t, err)
}

func TestFlashFirmwareBFRejectsUnknownModel(t *testing.T) {
	_, err := FlashFirmwareBF(transport.Config{}, "NOT-A-REAL-MODEL", make([]byte, 64), 0x08000000, true, safety.Context{Simulate: true}, nil)
	require.Error(t, err)
}

func TestFlashFirmwareBFRejectsUndersizedPackageWithoutOverride(t *testing.T) {
	_, err := FlashFirmwareBF(transport.Config{}, "UV-5RM", make([]byte, 64), 0x08000000, false, safety.Context{Simulate: true}, nil)
	require.Error(t, err)
}

func TestFlashPictureDM32UVRejectsWrongImageLength(t *testing.T) {
	_, err := FlashPictureDM32UV(transport.Config{}, make([]byte, 10), safety.Context{Simulate: true}, nil)
	require.Error(t, err)
}

func TestHeaderAndFloor(t *testing.T) {
	require.Equal(t, 16, headerAndFloor(true))
	require.Greater(t, headerAndFloor(false), 16)
}
