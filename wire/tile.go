package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// View identifies which eye (or none) a tile belongs to.
type View uint8

// View values. side_by_side is a producer-only hint: it never appears on
// the wire, where each tile carries mono, left_eye or right_eye.
const (
	ViewMono View = iota
	ViewLeftEye
	ViewRightEye
	ViewSideBySide
)

func (v View) String() string {
	switch v {
	case ViewMono:
		return "mono"
	case ViewLeftEye:
		return "left_eye"
	case ViewRightEye:
		return "right_eye"
	case ViewSideBySide:
		return "side_by_side"
	default:
		return "unknown"
	}
}

// RowOrder identifies whether row 0 of a tile is the top or bottom of the
// image. All tiles of one frame must agree.
type RowOrder uint8

const (
	RowOrderTopDown RowOrder = iota
	RowOrderBottomUp
)

func (r RowOrder) String() string {
	if r == RowOrderBottomUp {
		return "bottom_up"
	}
	return "top_down"
}

// PixelFormat tags the encoding of a Tile's ImageData.
type PixelFormat uint32

const (
	FormatRGB PixelFormat = iota
	FormatRGBA
	FormatARGB
	FormatBGR
	FormatBGRA
	FormatABGR
	FormatJPEG
	FormatYUV444
	FormatYUV422
	FormatYUV420
)

// BytesPerPixel returns the raw pixel stride of f, or 0 for compressed or
// planar formats where no fixed per-pixel stride applies.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGB, FormatBGR:
		return 3
	case FormatRGBA, FormatARGB, FormatBGRA, FormatABGR:
		return 4
	default:
		return 0
	}
}

// SegmentParameters is the fixed prefix of a tile message body.
type SegmentParameters struct {
	Format PixelFormat
	X      uint32
	Y      uint32
	Width  uint32
	Height uint32
}

// SegmentParametersSize is the exact wire size of SegmentParameters.
const SegmentParametersSize = 4 * 5

// Encode writes p using a stable field-by-field layout.
func (p SegmentParameters) Encode(w io.Writer) error {
	fields := []uint32{uint32(p.Format), p.X, p.Y, p.Width, p.Height}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("wire: write segment parameters: %w", err)
		}
	}
	return nil
}

// DecodeSegmentParameters reads a SegmentParameters from r.
func DecodeSegmentParameters(r io.Reader) (SegmentParameters, error) {
	var fields [5]uint32
	for i := range fields {
		if err := binary.Read(r, binary.LittleEndian, &fields[i]); err != nil {
			return SegmentParameters{}, fmt.Errorf("wire: read segment parameters: %w", err)
		}
	}
	return SegmentParameters{
		Format: PixelFormat(fields[0]),
		X:      fields[1],
		Y:      fields[2],
		Width:  fields[3],
		Height: fields[4],
	}, nil
}

// Tile is the atomic wire unit: a rectangular subregion of one frame, plus
// the per-connection state (view/row order/channel) it inherited when sent.
type Tile struct {
	SegmentParameters
	View      View
	RowOrder  RowOrder
	Channel   uint8
	ImageData []byte
}
