// Package segmenter splits a full frame image into wire.Tile segments,
// optionally JPEG-compressing each one, following the same tiling math and
// stereo doubling rules a host and a producer must agree on.
package segmenter

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/sync/errgroup"

	"github.com/deflectio/pixelstream/wire"
)

// Image is the source frame to segment: a flat pixel buffer plus its
// placement in the larger wall, and the view/channel it belongs to.
type Image struct {
	Data   []byte
	Format wire.PixelFormat
	X, Y   uint32
	Width  uint32
	Height uint32
	View   wire.View
	// RowOrder and Channel are copied onto every tile produced from this
	// image; the segmenter does not interpret them.
	RowOrder wire.RowOrder
	Channel  uint8
}

// bytesPerPixel mirrors wire.PixelFormat.BytesPerPixel but only accepts the
// uncompressed formats segmenter operates on directly. Both the raw and the
// JPEG path use it to cut tile regions; the JPEG path then encodes each
// region as RGBA.
func (img Image) bytesPerPixel() (int, error) {
	bpp := img.Format.BytesPerPixel()
	if bpp == 0 {
		return 0, fmt.Errorf("segmenter: format %v has no fixed pixel size", img.Format)
	}
	return bpp, nil
}

// Handler receives one finished tile at a time, in a stable left-to-right,
// top-to-bottom, left-eye-before-right-eye order, on the calling goroutine.
// Generate stops and returns the handler's error as soon as one occurs.
type Handler func(wire.Tile) error

// Segmenter cuts an Image into fixed-size tiles. The zero value produces a
// single tile covering the whole image.
type Segmenter struct {
	// NominalWidth and NominalHeight are the target tile size. Either
	// being 0 disables tiling: the whole image becomes one segment.
	NominalWidth  uint32
	NominalHeight uint32
	// JPEGQuality is passed to image/jpeg when compressing; ignored for
	// raw generation.
	JPEGQuality int
	// Workers bounds how many tiles are JPEG-compressed concurrently. 0
	// means errgroup's default (no limit).
	Workers int
}

// Generate segments img and, for each tile, either copies the raw pixel
// subregion (compress=false) or JPEG-encodes it (compress=true), invoking
// handler once per tile in order.
func (s Segmenter) Generate(ctx context.Context, img Image, compress bool, handler Handler) error {
	if compress {
		return s.generateJPEG(ctx, img, handler)
	}
	return s.generateRaw(img, handler)
}

func (s Segmenter) generateRaw(img Image, handler Handler) error {
	bpp, err := img.bytesPerPixel()
	if err != nil {
		return err
	}
	segments := s.makeSegments(img)
	if len(segments) > 1 && img.Format != wire.FormatRGBA {
		return fmt.Errorf("segmenter: raw multi-tile segmentation requires RGBA, got %v", img.Format)
	}

	for _, seg := range segments {
		var data []byte
		if len(segments) == 1 {
			data = img.Data
		} else {
			data = extractRegion(img, seg, bpp)
		}
		seg.ImageData = data
		if err := handler(seg); err != nil {
			return err
		}
	}
	return nil
}

func (s Segmenter) generateJPEG(ctx context.Context, img Image, handler Handler) error {
	bpp, err := img.bytesPerPixel()
	if err != nil {
		return err
	}
	segments := s.makeSegments(img)
	encoded := make([][]byte, len(segments))

	g, _ := errgroup.WithContext(ctx)
	if s.Workers > 0 {
		g.SetLimit(s.Workers)
	}
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			region := extractRegion(img, seg, bpp)
			buf, err := encodeJPEG(region, int(seg.Width), int(seg.Height), s.jpegQuality())
			if err != nil {
				return fmt.Errorf("segmenter: encode tile %d: %w", i, err)
			}
			encoded[i] = buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, seg := range segments {
		seg.ImageData = encoded[i]
		seg.Format = wire.FormatJPEG
		if err := handler(seg); err != nil {
			return err
		}
	}
	return nil
}

func (s Segmenter) jpegQuality() int {
	if s.JPEGQuality <= 0 {
		return jpeg.DefaultQuality
	}
	return s.JPEGQuality
}

// makeSegments computes the tile grid and, for a side-by-side stereo
// image, doubles it into a left-eye and a right-eye copy.
func (s Segmenter) makeSegments(img Image) []wire.Tile {
	params := s.makeSegmentParameters(img)

	view := img.View
	if view == wire.ViewSideBySide {
		view = wire.ViewLeftEye
	}

	segments := make([]wire.Tile, 0, len(params))
	for _, p := range params {
		segments = append(segments, wire.Tile{
			SegmentParameters: p,
			View:              view,
			RowOrder:          img.RowOrder,
			Channel:           img.Channel,
		})
	}

	if img.View == wire.ViewSideBySide {
		right := make([]wire.Tile, len(segments))
		copy(right, segments)
		for i := range right {
			right[i].View = wire.ViewRightEye
		}
		segments = append(segments, right...)
	}

	return segments
}

type segmentationInfo struct {
	width, height         uint32
	countX, countY        uint32
	lastWidth, lastHeight uint32
}

func (s Segmenter) makeSegmentationInfo(img Image) segmentationInfo {
	imageWidth := img.Width
	if img.View == wire.ViewSideBySide {
		imageWidth = img.Width / 2
	}

	info := segmentationInfo{width: s.NominalWidth, height: s.NominalHeight}

	if s.NominalWidth == 0 || s.NominalHeight == 0 {
		info.countX, info.countY = 1, 1
		info.lastWidth, info.lastHeight = imageWidth, img.Height
		return info
	}

	info.countX = imageWidth/s.NominalWidth + 1
	info.countY = img.Height/s.NominalHeight + 1
	info.lastWidth = imageWidth % s.NominalWidth
	info.lastHeight = img.Height % s.NominalHeight

	if info.lastWidth == 0 {
		info.lastWidth = s.NominalWidth
		info.countX--
	}
	if info.lastHeight == 0 {
		info.lastHeight = s.NominalHeight
		info.countY--
	}
	return info
}

func (s Segmenter) makeSegmentParameters(img Image) []wire.SegmentParameters {
	info := s.makeSegmentationInfo(img)

	params := make([]wire.SegmentParameters, 0, info.countX*info.countY)
	for j := uint32(0); j < info.countY; j++ {
		for i := uint32(0); i < info.countX; i++ {
			width := info.width
			if i == info.countX-1 {
				width = info.lastWidth
			}
			height := info.height
			if j == info.countY-1 {
				height = info.lastHeight
			}
			params = append(params, wire.SegmentParameters{
				Format: img.Format,
				X:      img.X + i*info.width,
				Y:      img.Y + j*info.height,
				Width:  width,
				Height: height,
			})
		}
	}
	return params
}

// extractRegion copies the pixel data covered by seg out of img, accounting
// for the horizontal offset a right-eye tile of a side-by-side image needs
// into the second half of the source buffer.
func extractRegion(img Image, seg wire.Tile, bpp int) []byte {
	p := seg.SegmentParameters
	pitch := int(img.Width) * bpp
	offsetX := int(p.X-img.X) * bpp
	offsetY := int(p.Y-img.Y) * pitch

	if img.View == wire.ViewSideBySide && seg.View == wire.ViewRightEye {
		offsetX += int(img.Width/2) * bpp
	}

	out := make([]byte, 0, int(p.Width)*int(p.Height)*bpp)
	rowBytes := int(p.Width) * bpp
	for row := 0; row < int(p.Height); row++ {
		start := offsetY + row*pitch + offsetX
		out = append(out, img.Data[start:start+rowBytes]...)
	}
	return out
}

// encodeJPEG wraps a tight RGBA region into an image.RGBA and encodes it.
func encodeJPEG(rgba []byte, width, height, quality int) ([]byte, error) {
	img := &image.RGBA{
		Pix:    rgba,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
