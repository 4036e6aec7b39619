package bfpackage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeFirmware(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte((i * 7) % 251) // avoid landing on a fixed byte pattern
	}
	return out
}

func TestScrambleIsInvolution(t *testing.T) {
	orig := makeFirmware(blockSize * 5)
	scrambled := Scramble(orig)
	require.NotEqual(t, orig, scrambled)
	back := Descramble(scrambled)
	require.Equal(t, orig, back)
}

func TestScrambleLeavesFirstTwoAndLastTwoBlocksUntouched(t *testing.T) {
	orig := makeFirmware(blockSize * 6)
	scrambled := Scramble(orig)
	require.Equal(t, orig[:2*blockSize], scrambled[:2*blockSize], "first two blocks must stay plaintext")
	require.Equal(t, orig[len(orig)-2*blockSize:], scrambled[len(scrambled)-2*blockSize:], "last two blocks must stay plaintext")
	require.NotEqual(t, orig[2*blockSize:4*blockSize], scrambled[2*blockSize:4*blockSize], "middle blocks must actually be scrambled")
}

func TestScrambleSkipsReservedBytes(t *testing.T) {
	block := make([]byte, blockSize)
	for i := range block {
		block[i] = 0x00
	}
	var orig []byte
	for i := 0; i < 6; i++ {
		orig = append(orig, block...)
	}
	scrambled := Scramble(orig)
	require.Equal(t, orig, scrambled)
}

func TestParseHeaderForcesRegion2LenZeroWhenSingleRegion(t *testing.T) {
	raw := EncodeHeader(Header{RegionCount: 1, Region1Len: 100, Region2Len: 50})
	// simulate vendor tooling leaving stale garbage in region2Len for a
	// single-region package
	raw[5], raw[6], raw[7], raw[8] = 0xDE, 0xAD, 0xBE, 0xEF
	h, err := ParseHeader(raw)
	require.NoError(t, err)
	require.Equal(t, 1, h.RegionCount)
	require.EqualValues(t, 100, h.Region1Len)
	require.EqualValues(t, 0, h.Region2Len)
}

func TestParseHeaderRejectsTruncatedInput(t *testing.T) {
	_, err := ParseHeader(make([]byte, 10))
	require.Error(t, err)
}

func TestSplitRegionsTwoRegion(t *testing.T) {
	h := Header{RegionCount: 2, Region1Len: 4, Region2Len: 3}
	payload := []byte{1, 2, 3, 4, 5, 6, 7}
	regions, err := SplitRegions(h, payload)
	require.NoError(t, err)
	require.Equal(t, [][]byte{{1, 2, 3, 4}, {5, 6, 7}}, regions)
}

func TestSplitRegionsRejectsShortPayload(t *testing.T) {
	h := Header{RegionCount: 1, Region1Len: 100}
	_, err := SplitRegions(h, make([]byte, 10))
	require.Error(t, err)
}

func TestPatchAtOffset(t *testing.T) {
	data := make([]byte, 16)
	patched, err := PatchAtOffset(data, 4, []byte{0xAA, 0xBB})
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), patched[4])
	require.Equal(t, byte(0xBB), patched[5])
	require.Equal(t, byte(0x00), data[4]) // original untouched
}

func TestPatchAtOffsetRejectsOutOfRange(t *testing.T) {
	data := make([]byte, 4)
	_, err := PatchAtOffset(data, 3, []byte{0x01, 0x02})
	require.Error(t, err)
}

func TestWrapUnwrapRoundTripSingleRegion(t *testing.T) {
	region := makeFirmware(blockSize * 3)
	var packed bytes.Buffer
	h, err := Wrap(&packed, bytes.NewReader(region))
	require.NoError(t, err)
	require.Equal(t, 1, h.RegionCount)
	require.EqualValues(t, len(region), h.Region1Len)

	var unwrapped bytes.Buffer
	gotHeader, err := Unwrap(bytes.NewReader(packed.Bytes()), &unwrapped)
	require.NoError(t, err)
	require.Equal(t, h, gotHeader)
	require.Equal(t, region, unwrapped.Bytes())
}

func TestWrapUnwrapRoundTripTwoRegions(t *testing.T) {
	region1 := makeFirmware(blockSize * 2)
	region2 := makeFirmware(blockSize * 3)
	var packed bytes.Buffer
	h, err := Wrap(&packed, bytes.NewReader(region1), bytes.NewReader(region2))
	require.NoError(t, err)
	require.Equal(t, 2, h.RegionCount)

	var unwrapped bytes.Buffer
	gotHeader, err := Unwrap(bytes.NewReader(packed.Bytes()), &unwrapped)
	require.NoError(t, err)
	want := append(append([]byte{}, region1...), region2...)
	require.Equal(t, want, unwrapped.Bytes())
	require.EqualValues(t, gotHeader.Region1Len, h.Region1Len)
	require.EqualValues(t, gotHeader.Region2Len, h.Region2Len)
}

func TestWrapRejectsTooManyRegions(t *testing.T) {
	var buf bytes.Buffer
	_, err := Wrap(&buf, bytes.NewReader(nil), bytes.NewReader(nil), bytes.NewReader(nil))
	require.Error(t, err)
}
