package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/deflectio/pixelstream/transport"
)

// Acceptor listens for producer connections and spawns a connWorker per
// accepted connection, wiring it to a shared Dispatcher.
type Acceptor struct {
	addr string
	disp *Dispatcher
	log  zerolog.Logger

	nextSourceID atomic.Uint64
}

// NewAcceptor returns an Acceptor that will listen on addr once Run is
// called, dispatching through disp.
func NewAcceptor(addr string, disp *Dispatcher, log zerolog.Logger) *Acceptor {
	return &Acceptor{addr: addr, disp: disp, log: log}
}

// RequestFrame forwards a pull-model frame request to the dispatcher.
func (a *Acceptor) RequestFrame(uri string) {
	a.disp.RequestFrame(uri)
}

// ClosePixelStream forwards an unconditional stream teardown request to
// the dispatcher.
func (a *Acceptor) ClosePixelStream(uri string) {
	a.disp.DeleteStream(uri)
}

// Run listens on a.addr and accepts connections until ctx is canceled or
// accept fails. It blocks until the listener is closed.
func (a *Acceptor) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", a.addr, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	a.log.Info().Str("addr", a.addr).Msg("accepting pixel stream connections")

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}

		conn, err := transport.Accept(nc)
		if err != nil {
			a.log.Debug().Err(err).Msg("handshake failed")
			continue
		}

		id := SourceID(a.nextSourceID.Add(1))
		worker := newConnWorker(conn, id, a.disp, a.log)
		go worker.run()
	}
}
