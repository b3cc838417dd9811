// Package decoder converts JPEG tiles received from the wire back to raw
// pixel data, synchronously or via a one-in-flight async mode that drops
// a request if a previous decode is still running.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/deflectio/pixelstream/wire"
)

// ErrNotJPEG is returned when DecodeType is asked to process a tile that
// isn't JPEG-encoded. Decode and DecodeToYUV leave such a tile untouched
// and return nil.
var ErrNotJPEG = errors.New("decoder: tile is not in JPEG format")

// ErrUnexpectedSize is returned when a decoded tile's byte count doesn't
// match its declared width/height, signaling a corrupt or truncated image.
var ErrUnexpectedSize = errors.New("decoder: decoded tile has unexpected size")

// ChromaSubsampling reports the subsampling mode found in a JPEG tile's
// header, cheaper to read than decoding the whole image.
type ChromaSubsampling int

const (
	SubsamplingUnknown ChromaSubsampling = iota
	Subsampling444
	Subsampling422
	Subsampling420
)

// TileDecoder decodes JPEG tiles to RGBA, reusing no state across calls
// (stdlib image/jpeg carries no reusable per-goroutine context the way
// libjpeg-turbo's handle does). A TileDecoder also tracks one in-flight
// asynchronous decode, so concurrent StartDecoding calls apply a
// frame-drop policy rather than queuing.
type TileDecoder struct {
	mu      sync.Mutex
	running bool
	done    chan struct{}
	err     error
}

// NewTileDecoder returns a ready TileDecoder.
func NewTileDecoder() *TileDecoder {
	return &TileDecoder{}
}

// DecodeType reads only tile's JPEG header, without decoding pixel data,
// and maps its color model to a ChromaSubsampling. The header's sampling
// factors are not read: every YCbCr JPEG is reported as Subsampling420,
// whatever its actual subsampling, and any other JPEG as Subsampling444.
func (d *TileDecoder) DecodeType(tile wire.Tile) (ChromaSubsampling, error) {
	if tile.Format != wire.FormatJPEG {
		return SubsamplingUnknown, ErrNotJPEG
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(tile.ImageData))
	if err != nil {
		return SubsamplingUnknown, fmt.Errorf("decoder: decode header: %w", err)
	}
	// image/jpeg's public API does not expose the raw subsampling ratio;
	// infer it from the decoded color model, which is the best stdlib can
	// offer without reaching for cgo libjpeg bindings.
	switch cfg.ColorModel {
	case color.YCbCrModel:
		return Subsampling420, nil
	default:
		return Subsampling444, nil
	}
}

// Decode decompresses tile's JPEG data to RGBA in place, setting
// tile.Format to wire.FormatRGBA on success.
func (d *TileDecoder) Decode(tile *wire.Tile) error {
	return decodeTile(tile)
}

func decodeTile(tile *wire.Tile) error {
	if tile.Format != wire.FormatJPEG {
		return nil
	}
	img, err := jpeg.Decode(bytes.NewReader(tile.ImageData))
	if err != nil {
		return fmt.Errorf("decoder: decode tile: %w", err)
	}

	rgba := toRGBA(img)
	expected := int(tile.Width) * int(tile.Height) * 4
	if len(rgba) != expected {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrUnexpectedSize, len(rgba), expected)
	}

	tile.ImageData = rgba
	tile.Format = wire.FormatRGBA
	return nil
}

func toRGBA(img image.Image) []byte {
	bounds := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == bounds.Dx()*4 {
		return rgba.Pix
	}
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out.Pix
}

// DecodeToYUV decompresses tile's JPEG data to planar YUV, skipping the
// YUV→RGB conversion step so a GPU shader can do it instead. It only
// succeeds for JPEGs stdlib decodes as *image.YCbCr; tile.Format is set to
// the matching wire.FormatYUV444/422/420 on success.
func (d *TileDecoder) DecodeToYUV(tile *wire.Tile) error {
	if tile.Format != wire.FormatJPEG {
		return nil
	}
	img, err := jpeg.Decode(bytes.NewReader(tile.ImageData))
	if err != nil {
		return fmt.Errorf("decoder: decode tile: %w", err)
	}
	ycbcr, ok := img.(*image.YCbCr)
	if !ok {
		return fmt.Errorf("decoder: tile did not decode to a YCbCr image")
	}

	format, err := yuvFormat(ycbcr.SubsampleRatio)
	if err != nil {
		return err
	}

	yuv := planarYUV(ycbcr)
	expected := expectedYUVSize(format, int(tile.Width), int(tile.Height))
	if len(yuv) != expected {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrUnexpectedSize, len(yuv), expected)
	}

	tile.ImageData = yuv
	tile.Format = format
	return nil
}

func yuvFormat(ratio image.YCbCrSubsampleRatio) (wire.PixelFormat, error) {
	switch ratio {
	case image.YCbCrSubsampleRatio444:
		return wire.FormatYUV444, nil
	case image.YCbCrSubsampleRatio422:
		return wire.FormatYUV422, nil
	case image.YCbCrSubsampleRatio420:
		return wire.FormatYUV420, nil
	default:
		return 0, fmt.Errorf("decoder: unsupported chroma subsampling %v", ratio)
	}
}

// planarYUV concatenates the Y, Cb, Cr planes of img, cropped to its
// bounds, matching the [Y-plane][Cb-plane][Cr-plane] layout consumers of
// wire.FormatYUV* expect.
func planarYUV(img *image.YCbCr) []byte {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]byte, 0, w*h*2)
	for y := 0; y < h; y++ {
		row := (bounds.Min.Y + y - img.Rect.Min.Y) * img.YStride
		start := row + (bounds.Min.X - img.Rect.Min.X)
		out = append(out, img.Y[start:start+w]...)
	}
	cw, ch := chromaDims(img.SubsampleRatio, w, h)
	appendChromaPlane := func(plane []byte, stride int) {
		for y := 0; y < ch; y++ {
			start := y * stride
			out = append(out, plane[start:start+cw]...)
		}
	}
	appendChromaPlane(img.Cb, img.CStride)
	appendChromaPlane(img.Cr, img.CStride)
	return out
}

func chromaDims(ratio image.YCbCrSubsampleRatio, w, h int) (cw, ch int) {
	switch ratio {
	case image.YCbCrSubsampleRatio444:
		return w, h
	case image.YCbCrSubsampleRatio422:
		return (w + 1) / 2, h
	case image.YCbCrSubsampleRatio420:
		return (w + 1) / 2, (h + 1) / 2
	default:
		return w, h
	}
}

func expectedYUVSize(format wire.PixelFormat, w, h int) int {
	imageSize := w * h
	switch format {
	case wire.FormatYUV444:
		return imageSize * 3
	case wire.FormatYUV422:
		return imageSize * 2
	case wire.FormatYUV420:
		return imageSize + imageSize/2
	default:
		return 0
	}
}

// StartDecoding begins an asynchronous decode of tile. It silently drops
// the request if a previous async decode on this TileDecoder is still
// running, matching the original's frame-drop-on-slow-consumer policy.
func (d *TileDecoder) StartDecoding(tile *wire.Tile) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.done = make(chan struct{})
	d.err = nil
	d.mu.Unlock()

	go func() {
		err := decodeTile(tile)
		d.mu.Lock()
		d.err = err
		d.running = false
		close(d.done)
		d.mu.Unlock()
	}()
}

// WaitDecoding blocks until the decode started by StartDecoding finishes,
// returning its error. It returns nil immediately if StartDecoding has never
// started a decode; once a decode has finished, it returns that decode's
// error without blocking.
func (d *TileDecoder) WaitDecoding() error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// IsRunning reports whether an asynchronous decode is in flight.
func (d *TileDecoder) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}
