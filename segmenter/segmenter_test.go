package segmenter

import (
	"context"
	"testing"

	"github.com/deflectio/pixelstream/wire"
)

// solidRGBA builds a width x height RGBA buffer where every pixel encodes
// its own (x, y) in the red/green channels, so extracted regions can be
// checked for correct offsets.
func solidRGBA(width, height int) []byte {
	buf := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			buf[i+0] = byte(x)
			buf[i+1] = byte(y)
			buf[i+2] = 0
			buf[i+3] = 255
		}
	}
	return buf
}

func TestGenerateRawSingleTile(t *testing.T) {
	img := Image{
		Data: solidRGBA(10, 10), Format: wire.FormatRGBA,
		Width: 10, Height: 10,
	}
	s := Segmenter{}

	var tiles []wire.Tile
	err := s.Generate(context.Background(), img, false, func(tl wire.Tile) error {
		tiles = append(tiles, tl)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(tiles) != 1 {
		t.Fatalf("got %d tiles, want 1", len(tiles))
	}
	if len(tiles[0].ImageData) != 10*10*4 {
		t.Errorf("tile data len = %d, want %d", len(tiles[0].ImageData), 10*10*4)
	}
}

func TestGenerateRawTiling(t *testing.T) {
	// 10x10 image, 4x4 nominal tiles -> 3x3 grid with shrinking edge tiles
	// (4,4,2) along each axis.
	img := Image{
		Data: solidRGBA(10, 10), Format: wire.FormatRGBA,
		Width: 10, Height: 10,
	}
	s := Segmenter{NominalWidth: 4, NominalHeight: 4}

	var tiles []wire.Tile
	err := s.Generate(context.Background(), img, false, func(tl wire.Tile) error {
		tiles = append(tiles, tl)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(tiles) != 9 {
		t.Fatalf("got %d tiles, want 9", len(tiles))
	}

	last := tiles[len(tiles)-1]
	if last.Width != 2 || last.Height != 2 {
		t.Errorf("last tile = %dx%d, want 2x2", last.Width, last.Height)
	}
	if last.X != 8 || last.Y != 8 {
		t.Errorf("last tile origin = (%d,%d), want (8,8)", last.X, last.Y)
	}

	// Spot-check the first pixel of the last tile matches the source.
	got := last.ImageData[0]
	if got != 8 {
		t.Errorf("last tile first pixel red = %d, want 8", got)
	}
}

func TestGenerateRawSideBySideDoublesTiles(t *testing.T) {
	img := Image{
		Data: solidRGBA(20, 10), Format: wire.FormatRGBA,
		Width: 20, Height: 10, View: wire.ViewSideBySide,
	}
	s := Segmenter{}

	var tiles []wire.Tile
	err := s.Generate(context.Background(), img, false, func(tl wire.Tile) error {
		tiles = append(tiles, tl)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(tiles) != 2 {
		t.Fatalf("got %d tiles, want 2 (left + right eye)", len(tiles))
	}
	if tiles[0].View != wire.ViewLeftEye {
		t.Errorf("tiles[0].View = %v, want ViewLeftEye", tiles[0].View)
	}
	if tiles[1].View != wire.ViewRightEye {
		t.Errorf("tiles[1].View = %v, want ViewRightEye", tiles[1].View)
	}
	if tiles[0].Width != 10 || tiles[1].Width != 10 {
		t.Errorf("eye widths = %d, %d, want 10, 10", tiles[0].Width, tiles[1].Width)
	}
	// Right eye region must come from the second half of the source row.
	if tiles[1].ImageData[0] != 10 {
		t.Errorf("right eye first pixel red = %d, want 10", tiles[1].ImageData[0])
	}
}

func TestGenerateJPEGProducesDecodableTiles(t *testing.T) {
	img := Image{
		Data: solidRGBA(16, 16), Format: wire.FormatRGBA,
		Width: 16, Height: 16,
	}
	s := Segmenter{JPEGQuality: 90}

	var tiles []wire.Tile
	err := s.Generate(context.Background(), img, true, func(tl wire.Tile) error {
		tiles = append(tiles, tl)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(tiles) != 1 {
		t.Fatalf("got %d tiles, want 1", len(tiles))
	}
	if len(tiles[0].ImageData) == 0 {
		t.Fatal("jpeg tile has no data")
	}
	// JPEG magic bytes.
	if tiles[0].ImageData[0] != 0xFF || tiles[0].ImageData[1] != 0xD8 {
		t.Errorf("tile data does not start with JPEG SOI marker: %x", tiles[0].ImageData[:2])
	}
}

func TestGenerateRawMultiTileRejectsNonRGBA(t *testing.T) {
	img := Image{
		Data: make([]byte, 10*10*3), Format: wire.FormatRGB,
		Width: 10, Height: 10,
	}
	s := Segmenter{NominalWidth: 4, NominalHeight: 4}

	err := s.Generate(context.Background(), img, false, func(wire.Tile) error { return nil })
	if err == nil {
		t.Fatal("Generate() error = nil, want error for multi-tile non-RGBA raw segmentation")
	}
}

func TestGenerateStopsOnHandlerError(t *testing.T) {
	img := Image{
		Data: solidRGBA(10, 10), Format: wire.FormatRGBA,
		Width: 10, Height: 10,
	}
	s := Segmenter{NominalWidth: 4, NominalHeight: 4}

	wantErr := context.Canceled
	calls := 0
	err := s.Generate(context.Background(), img, false, func(wire.Tile) error {
		calls++
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Generate() error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1 (stop on first error)", calls)
	}
}
