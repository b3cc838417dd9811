// Command pixelstreamd runs the pixel streaming aggregation server: it
// accepts producer connections, reassembles tiled frames per stream, and
// logs stream lifecycle events. It never calls RequestFrame, so no frame is
// dispatched to its host and ReceivedFrame is not called. It is a reference host; a real
// deployment embeds server.Acceptor with its own Host implementation
// instead of running this binary directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/deflectio/pixelstream/server"
	"github.com/deflectio/pixelstream/wire"
)

var Version = "dev"

func main() {
	addr := flag.String("addr", "0.0.0.0:1701", "TCP address to accept pixel stream connections on")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("pixelstreamd version %s\n", Version)
		os.Exit(0)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	if err := run(*addr, log); err != nil {
		log.Fatal().Err(err).Msg("pixelstreamd exiting")
	}
}

func run(addr string, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	host := &loggingHost{log: log}
	disp := server.NewDispatcher(host, log)
	defer disp.Close()

	acceptor := server.NewAcceptor(addr, disp, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- acceptor.Run(ctx)
	}()

	log.Info().Str("addr", addr).Msg("pixelstreamd started")

	select {
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("acceptor: %w", err)
		}
	}

	log.Info().Msg("pixelstreamd stopped")
	return nil
}

// loggingHost is the reference Host: it logs every lifecycle and content
// event and grants every event-registration request, exclusive or not,
// without forwarding events anywhere.
type loggingHost struct {
	log zerolog.Logger
}

func (h *loggingHost) PixelStreamOpened(uri string) {
	h.log.Info().Str("stream_id", uri).Msg("stream opened")
}

func (h *loggingHost) PixelStreamClosed(uri string) {
	h.log.Info().Str("stream_id", uri).Msg("stream closed")
}

func (h *loggingHost) ReceivedFrame(frame *server.Frame) {
	w, ht := frame.ComputeDimensions()
	h.log.Debug().
		Str("stream_id", frame.URI).
		Int("tiles", len(frame.Tiles)).
		Uint32("width", w).
		Uint32("height", ht).
		Msg("received frame")
}

func (h *loggingHost) ReceivedSizeHints(uri string, hints wire.SizeHints) {
	h.log.Debug().Str("stream_id", uri).Interface("hints", hints).Msg("received size hints")
}

func (h *loggingHost) ReceivedData(uri string, data []byte) {
	h.log.Debug().Str("stream_id", uri).Int("bytes", len(data)).Msg("received data")
}

func (h *loggingHost) RegisterToEvents(uri string, exclusive bool, sink server.EventSink) bool {
	h.log.Info().Str("stream_id", uri).Bool("exclusive", exclusive).Msg("event registration granted")
	return true
}

func (h *loggingHost) PixelStreamException(uri string, err error) {
	h.log.Warn().Str("stream_id", uri).Err(err).Msg("stream exception")
}
