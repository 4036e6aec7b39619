// Package imagecodec converts arbitrary source images into the raw pixel
// formats radios actually store: RGB565 for the color logo/picture
// regions and one of four 1-bit-per-pixel packings for monochrome
// displays. It is grounded on original_source/main/src/baofeng_logo_flasher/logo_codec.py,
// translated from Pillow-based resizing/dithering into
// golang.org/x/image/draw, the same scaling/dithering package
// emergingrobotics-go-hailo's new/cmd/detect/main.go uses for its video
// pipeline.
package imagecodec

import (
	"image"
	"image/color"

	"github.com/bf-radio-tools/flashcore/pkg/radioerr"
	"golang.org/x/image/draw"
)

// BitmapFormat is the monochrome packing layout for single-bit display
// regions. In every layout a set bit means "ink on" -- a black source
// pixel after thresholding packs to bit value 1.
type BitmapFormat int

const (
	RowMSB BitmapFormat = iota
	RowLSB
	PageMSB
	PageLSB
)

func (f BitmapFormat) String() string {
	switch f {
	case RowMSB:
		return "row_msb"
	case RowLSB:
		return "row_lsb"
	case PageMSB:
		return "page_msb"
	case PageLSB:
		return "page_lsb"
	default:
		return "unknown"
	}
}

// ConvertToRGB565 scales src to width x height with a Catmull-Rom
// resampler and packs each pixel into 2 little-endian bytes, 5 bits red,
// 6 bits green, 5 bits blue. order selects channel ordering: "rgb"
// (default) or "bgr", for regions whose controller expects swapped
// channels.
func ConvertToRGB565(src image.Image, width, height int, order string) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, radioerr.New(radioerr.KindFormat, "invalid target dimensions",
			"width and height must be positive")
	}
	scaled := scaleRGBA(src, width, height)
	out := make([]byte, 0, width*height*2)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := scaled.RGBAAt(x, y)
			r, g, b := c.R, c.G, c.B
			if order == "bgr" {
				r, b = b, r
			}
			v := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
			out = append(out, byte(v&0xFF), byte(v>>8))
		}
	}
	return out, nil
}

// UnpackRGB565 is the inverse of ConvertToRGB565's packing step, used by
// round-trip tests. It returns an *image.RGBA of the given dimensions.
func UnpackRGB565(data []byte, width, height int, order string) (*image.RGBA, error) {
	if len(data) != width*height*2 {
		return nil, radioerr.New(radioerr.KindTruncated, "RGB565 buffer has wrong length",
			"expected width*height*2 bytes")
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint16(data[i]) | uint16(data[i+1])<<8
			i += 2
			r5 := byte(v >> 11 & 0x1F)
			g6 := byte(v >> 5 & 0x3F)
			b5 := byte(v & 0x1F)
			r := expand5(r5)
			g := expand6(g6)
			b := expand5(b5)
			if order == "bgr" {
				r, b = b, r
			}
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xFF})
		}
	}
	return img, nil
}

func expand5(v byte) byte { return v<<3 | v>>2 }
func expand6(v byte) byte { return v<<2 | v>>4 }

func scaleRGBA(src image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// ConvertMonochrome scales src to width x height, dithers it to 1-bit
// with Floyd-Steinberg error diffusion, and packs the result in the
// given layout. Set dither=false to threshold at the midpoint instead,
// for displays where dithering produces visible patterning at very small
// sizes.
func ConvertMonochrome(src image.Image, width, height int, format BitmapFormat, dither bool) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, radioerr.New(radioerr.KindFormat, "invalid target dimensions",
			"width and height must be positive")
	}
	scaled := scaleRGBA(src, width, height)
	bits := make([][]bool, height) // bits[y][x] == true means ink on (black)
	if dither {
		pal := image.NewPaletted(scaled.Bounds(), color.Palette{color.White, color.Black})
		draw.FloydSteinberg.Draw(pal, pal.Bounds(), scaled, image.Point{})
		for y := 0; y < height; y++ {
			bits[y] = make([]bool, width)
			for x := 0; x < width; x++ {
				bits[y][x] = pal.ColorIndexAt(x, y) == 1
			}
		}
	} else {
		for y := 0; y < height; y++ {
			bits[y] = make([]bool, width)
			for x := 0; x < width; x++ {
				c := scaled.RGBAAt(x, y)
				lum := (int(c.R)*299 + int(c.G)*587 + int(c.B)*114) / 1000
				bits[y][x] = lum < 128
			}
		}
	}
	return packBits(bits, width, height, format), nil
}

func packBits(bits [][]bool, width, height int, format BitmapFormat) []byte {
	switch format {
	case RowMSB, RowLSB:
		rowBytes := (width + 7) / 8
		out := make([]byte, rowBytes*height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if !bits[y][x] {
					continue
				}
				byteIdx := y*rowBytes + x/8
				bitPos := x % 8
				if format == RowMSB {
					out[byteIdx] |= 1 << (7 - bitPos)
				} else {
					out[byteIdx] |= 1 << bitPos
				}
			}
		}
		return out
	default: // PageMSB, PageLSB
		pages := (height + 7) / 8
		out := make([]byte, width*pages)
		for x := 0; x < width; x++ {
			for page := 0; page < pages; page++ {
				var b byte
				for bit := 0; bit < 8; bit++ {
					y := page*8 + bit
					if y >= height || !bits[y][x] {
						continue
					}
					if format == PageMSB {
						b |= 1 << (7 - bit)
					} else {
						b |= 1 << bit
					}
				}
				out[page*width+x] = b
			}
		}
		return out
	}
}

// UnpackMonochrome is the inverse of ConvertMonochrome's packing step
// (not of the dither, which is lossy), returning a width x height boolean
// grid where true means ink on. Used by round-trip tests to check that
// packing and unpacking agree on bit placement.
func UnpackMonochrome(data []byte, width, height int, format BitmapFormat) ([][]bool, error) {
	bits := make([][]bool, height)
	for y := range bits {
		bits[y] = make([]bool, width)
	}
	switch format {
	case RowMSB, RowLSB:
		rowBytes := (width + 7) / 8
		if len(data) != rowBytes*height {
			return nil, radioerr.New(radioerr.KindTruncated, "monochrome buffer has wrong length", "")
		}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				byteIdx := y*rowBytes + x/8
				bitPos := x % 8
				var set bool
				if format == RowMSB {
					set = data[byteIdx]&(1<<(7-bitPos)) != 0
				} else {
					set = data[byteIdx]&(1<<bitPos) != 0
				}
				bits[y][x] = set
			}
		}
	default:
		pages := (height + 7) / 8
		if len(data) != width*pages {
			return nil, radioerr.New(radioerr.KindTruncated, "monochrome buffer has wrong length", "")
		}
		for x := 0; x < width; x++ {
			for page := 0; page < pages; page++ {
				b := data[page*width+x]
				for bit := 0; bit < 8; bit++ {
					y := page*8 + bit
					if y >= height {
						continue
					}
					if format == PageMSB {
						bits[y][x] = b&(1<<(7-bit)) != 0
					} else {
						bits[y][x] = b&(1<<bit) != 0
					}
				}
			}
		}
	}
	return bits, nil
}
