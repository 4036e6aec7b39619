// Package bfpackage implements the .BF firmware container format: the
// 16-byte region header and the 1024-byte-block XOR scramble vendor
// flashing tools wrap around raw firmware images. Grounded on
// original_source/src/baofeng_logo_flasher/firmware_tools.py's
// scramble/descramble and header pack/unpack routines.
package bfpackage

import (
	"encoding/binary"
	"io"

	"github.com/bf-radio-tools/flashcore/pkg/radioerr"
)

const (
	blockSize  = 1024
	headerSize = 16
)

var (
	key1 = []byte("KDHT")
	key2 = []byte("RBGI")
)

// Header describes a .BF package's region layout: one or two firmware
// regions concatenated after the 16-byte header.
type Header struct {
	RegionCount int
	Region1Len  uint32
	Region2Len  uint32
}

// ParseHeader reads the 16-byte .BF header. If RegionCount is 1, Region2Len
// is forced to 0 regardless of whatever garbage value is stored there --
// vendor tools have been observed leaving stale bytes in that field for
// single-region packages, and the original tooling quietly normalizes it
// rather than surfacing it as a format error.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, radioerr.New(radioerr.KindTruncated, "BF header truncated",
			"need at least 16 bytes")
	}
	h := Header{
		RegionCount: int(data[0]),
		Region1Len:  binary.BigEndian.Uint32(data[1:5]),
		Region2Len:  binary.BigEndian.Uint32(data[5:9]),
	}
	if h.RegionCount == 1 {
		h.Region2Len = 0
	}
	return h, nil
}

// EncodeHeader serializes a Header back into its 16-byte wire form, zero
// padding the 7 reserved trailing bytes.
func EncodeHeader(h Header) []byte {
	out := make([]byte, headerSize)
	out[0] = byte(h.RegionCount)
	binary.BigEndian.PutUint32(out[1:5], h.Region1Len)
	r2 := h.Region2Len
	if h.RegionCount == 1 {
		r2 = 0
	}
	binary.BigEndian.PutUint32(out[5:9], r2)
	return out
}

// Scramble applies the vendor XOR obfuscation to a firmware image, one
// 1024-byte block at a time. The first two and last two blocks pass
// through unscrambled; among the remaining blocks, every third one
// (index%3==1) is XORed against a cyclic 4-byte key, every third one
// after that (index%3==2) against a second cyclic key, and the rest
// (index%3==0) pass through too. Scramble and Descramble are the same
// operation (XOR is its own inverse), so this single function serves
// both directions.
func Scramble(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	blocks := (len(data) + blockSize - 1) / blockSize
	for i := 0; i < blocks; i++ {
		start := i * blockSize
		end := start + blockSize
		if end > len(data) {
			end = len(data)
		}
		if i < 2 || i >= blocks-2 {
			continue
		}
		switch i % 3 {
		case 1:
			xorCyclic(out[start:end], key1)
		case 2:
			xorCyclic(out[start:end], key2)
		}
	}
	return out
}

// Descramble is an alias for Scramble -- the transform is its own
// inverse. Kept as a distinct exported name so call sites read as
// "wrap for device" vs "unwrap from device" even though the bytes are
// identical.
func Descramble(data []byte) []byte { return Scramble(data) }

func xorCyclic(block []byte, key []byte) {
	for i := range block {
		kb := key[i%len(key)]
		b := block[i]
		if b == 0x00 || b == 0xFF || b == kb || b == kb^0xFF {
			continue
		}
		block[i] = b ^ kb
	}
}

// PatchAtOffset returns a copy of data with replacement written starting
// at offset, failing if replacement would run past the end of data.
func PatchAtOffset(data []byte, offset int, replacement []byte) ([]byte, error) {
	if offset < 0 || offset+len(replacement) > len(data) {
		return nil, radioerr.New(radioerr.KindFormat, "patch out of range",
			"replacement does not fit within the target buffer at the given offset")
	}
	out := make([]byte, len(data))
	copy(out, data)
	copy(out[offset:], replacement)
	return out, nil
}

// SplitRegions slices a .BF payload (the bytes following the 16-byte
// header) into its one or two firmware regions per h.
func SplitRegions(h Header, payload []byte) ([][]byte, error) {
	need := int(h.Region1Len) + int(h.Region2Len)
	if len(payload) < need {
		return nil, radioerr.New(radioerr.KindTruncated, "BF payload shorter than header declares",
			"")
	}
	regions := [][]byte{payload[:h.Region1Len]}
	if h.RegionCount > 1 {
		regions = append(regions, payload[h.Region1Len:h.Region1Len+h.Region2Len])
	}
	return regions, nil
}

// Unwrap reads a complete .BF file from r, descrambles every region, and
// writes the plain (unscrambled) firmware regions concatenated back to
// back to w. It returns the parsed header so callers know where one
// region ends and the next begins. Equivalent to the Python original's
// make_extract_equivalent, adapted to Go's io.Reader/io.Writer instead of
// a path-in/path-out pair.
func Unwrap(r io.Reader, w io.Writer) (Header, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Header{}, radioerr.Wrap(radioerr.KindIO, "cannot read BF package", err)
	}
	h, err := ParseHeader(data)
	if err != nil {
		return Header{}, err
	}
	regions, err := SplitRegions(h, data[headerSize:])
	if err != nil {
		return Header{}, err
	}
	for _, region := range regions {
		if _, err := w.Write(Descramble(region)); err != nil {
			return Header{}, radioerr.Wrap(radioerr.KindIO, "cannot write unwrapped firmware", err)
		}
	}
	return h, nil
}

// Wrap reads one or two plain firmware regions from rs, scrambles each,
// and writes a complete .BF file (header followed by the scrambled
// regions) to w. Equivalent to the Python original's
// make_rebuild_equivalent.
func Wrap(w io.Writer, rs ...io.Reader) (Header, error) {
	if len(rs) < 1 || len(rs) > 2 {
		return Header{}, radioerr.New(radioerr.KindFormat, "BF package must have one or two regions",
			"")
	}
	h := Header{RegionCount: len(rs)}
	scrambled := make([][]byte, len(rs))
	for i, r := range rs {
		plain, err := io.ReadAll(r)
		if err != nil {
			return Header{}, radioerr.Wrap(radioerr.KindIO, "cannot read firmware region", err)
		}
		scrambled[i] = Scramble(plain)
	}
	h.Region1Len = uint32(len(scrambled[0]))
	if len(scrambled) > 1 {
		h.Region2Len = uint32(len(scrambled[1]))
	}
	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return Header{}, radioerr.Wrap(radioerr.KindIO, "cannot write BF header", err)
	}
	for _, region := range scrambled {
		if _, err := w.Write(region); err != nil {
			return Header{}, radioerr.Wrap(radioerr.KindIO, "cannot write BF region", err)
		}
	}
	return h, nil
}
