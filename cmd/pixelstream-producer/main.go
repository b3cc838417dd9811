// Command pixelstream-producer is a reference producer: it generates a
// synthetic test-pattern image and streams it to a pixelstreamd host,
// exercising the client package the way a real capture application would.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/deflectio/pixelstream/client"
	"github.com/deflectio/pixelstream/segmenter"
	"github.com/deflectio/pixelstream/wire"
)

func main() {
	host := flag.String("host", "", "server host (overrides DEFLECT_HOST)")
	port := flag.Int("port", 0, "server port (defaults to client.DefaultPort)")
	id := flag.String("id", "", "stream id (overrides DEFLECT_ID)")
	width := flag.Int("width", 1280, "test pattern width")
	height := flag.Int("height", 720, "test pattern height")
	tileWidth := flag.Int("tile-width", 512, "nominal tile width")
	tileHeight := flag.Int("tile-height", 512, "nominal tile height")
	fps := flag.Int("fps", 10, "frames per second")
	compress := flag.Bool("compress", true, "JPEG-compress tiles")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	stream, err := client.Open(*id, *host, *port)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open stream")
	}
	defer stream.Close()
	log.Info().Str("stream_id", stream.Id()).Str("host", stream.Host()).Msg("stream opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	seg := segmenter.Segmenter{
		NominalWidth:  uint32(*tileWidth),
		NominalHeight: uint32(*tileHeight),
	}

	tick := time.NewTicker(time.Second / time.Duration(*fps))
	defer tick.Stop()

	var frameIndex uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			img := segmenter.Image{
				Data:   testPattern(*width, *height, frameIndex),
				Format: wire.FormatRGBA,
				Width:  uint32(*width),
				Height: uint32(*height),
			}
			if err := stream.SendAndFinish(ctx, img, seg, *compress); err != nil {
				log.Warn().Err(err).Msg("send failed")
				return
			}
			frameIndex++
		}
	}
}

// testPattern generates a deterministic RGBA image whose pixels sweep
// with frameIndex, so a receiving host can visually confirm frames are
// actually changing.
func testPattern(width, height int, frameIndex uint64) []byte {
	data := make([]byte, width*height*4)
	shift := byte(frameIndex % 256)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			data[i+0] = byte(x) + shift
			data[i+1] = byte(y) + shift
			data[i+2] = shift
			data[i+3] = 255
		}
	}
	return data
}
