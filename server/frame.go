package server

import (
	"errors"

	"github.com/deflectio/pixelstream/wire"
)

// ErrRowOrderMismatch is returned by Frame.DetermineRowOrder when a
// frame's tiles disagree on row order; all tiles in a frame must share
// the same orientation for the frame's pixels to compose correctly.
var ErrRowOrderMismatch = errors.New("server: frame tiles disagree on row order")

// Frame is a complete, assembled set of tiles for one stream at one
// point in time, ready to be handed to a Host.
type Frame struct {
	URI   string
	Tiles []wire.Tile
}

// ComputeDimensions returns the bounding box covering every tile's
// placement in the frame.
func (f *Frame) ComputeDimensions() (width, height uint32) {
	for _, t := range f.Tiles {
		if right := t.X + t.Width; right > width {
			width = right
		}
		if bottom := t.Y + t.Height; bottom > height {
			height = bottom
		}
	}
	return width, height
}

// DetermineRowOrder returns the row order shared by every tile in the
// frame, or ErrRowOrderMismatch if tiles disagree.
func (f *Frame) DetermineRowOrder() (wire.RowOrder, error) {
	if len(f.Tiles) == 0 {
		return wire.RowOrderTopDown, nil
	}
	order := f.Tiles[0].RowOrder
	for _, t := range f.Tiles[1:] {
		if t.RowOrder != order {
			return 0, ErrRowOrderMismatch
		}
	}
	return order, nil
}

// MirrorVertically flips every tile's Y placement within the frame's
// bounding box, turning a bottom-up frame into a top-down one without
// touching any pixel data.
func (f *Frame) MirrorVertically() {
	_, height := f.ComputeDimensions()
	for i := range f.Tiles {
		t := &f.Tiles[i]
		t.Y = height - t.Y - t.Height
	}
}
