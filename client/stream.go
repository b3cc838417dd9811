// Package client implements the producer side of the pixel streaming
// protocol: opening a stream to a host, sending segmented frames, and
// receiving input events the host forwards back.
package client

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/deflectio/pixelstream/segmenter"
	"github.com/deflectio/pixelstream/transport"
	"github.com/deflectio/pixelstream/wire"
)

// DefaultPort is used when no explicit port is given to Open.
const DefaultPort = 1701

// Stream streams frames to a host under a single identifier. Its methods
// are reentrant across independent Streams but a single Stream is not
// safe for concurrent use from multiple goroutines, matching the
// underlying connection's single-owner semantics.
type Stream struct {
	id   string
	host string

	conn   *transport.Conn
	worker *sendWorker
	seg    segmenter.Segmenter

	events       chan wire.Event
	registered   atomic.Bool
	closeOnce    sync.Once
	readerDone   chan struct{}
	disconnected func()
}

// Open connects to host:port and opens a stream under id. If id is empty,
// DEFLECT_ID is used, falling back to "<hostname>_<8 random hex digits>". If host is
// empty, DEFLECT_HOST is used; port defaults to DefaultPort when 0.
func Open(id, host string, port int) (*Stream, error) {
	if id == "" {
		id = os.Getenv("DEFLECT_ID")
	}
	if id == "" {
		hostname, _ := os.Hostname()
		id = hostname + "_" + uuid.NewString()[:8]
	}
	if host == "" {
		host = os.Getenv("DEFLECT_HOST")
	}
	if host == "" {
		return nil, errors.New("client: no host provided and DEFLECT_HOST is not set")
	}
	if port == 0 {
		port = DefaultPort
	}

	conn, err := transport.Dial(net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	s := &Stream{
		id:         id,
		host:       host,
		conn:       conn,
		worker:     newSendWorker(conn, id),
		events:     make(chan wire.Event, 64),
		readerDone: make(chan struct{}),
	}

	if _, err := s.worker.enqueue([]task{(*sendWorker).sendOpenStream}, false); err != nil {
		conn.Close()
		return nil, err
	}

	go s.readLoop()

	return s, nil
}

// Id returns the stream identifier.
func (s *Stream) Id() string { return s.id }

// Host returns the host this stream connected to.
func (s *Stream) Host() string { return s.host }

// Send segments image according to seg and sends every resulting tile,
// blocking until the send completes or fails.
func (s *Stream) Send(ctx context.Context, img segmenter.Image, seg segmenter.Segmenter, compress bool) error {
	var tasks []task
	err := seg.Generate(ctx, img, compress, func(tile wire.Tile) error {
		tile := tile
		tasks = append(tasks, func(w *sendWorker) error {
			return w.sendSegment(tile)
		})
		return nil
	})
	if err != nil {
		return err
	}

	result, err := s.worker.enqueue(tasks, false)
	if err != nil {
		return err
	}
	return s.wait(ctx, result)
}

// Finish notifies the host that this stream has finished sending images
// for the current frame. It returns ErrPendingFinish if a previous Finish
// has not completed yet.
func (s *Stream) Finish(ctx context.Context) error {
	result, err := s.worker.enqueue([]task{(*sendWorker).sendFinish}, true)
	if err != nil {
		return err
	}
	return s.wait(ctx, result)
}

// SendAndFinish is equivalent to Send followed by Finish, but submits both
// as a single ordered request.
func (s *Stream) SendAndFinish(ctx context.Context, img segmenter.Image, seg segmenter.Segmenter, compress bool) error {
	var tasks []task
	err := seg.Generate(ctx, img, compress, func(tile wire.Tile) error {
		tile := tile
		tasks = append(tasks, func(w *sendWorker) error {
			return w.sendSegment(tile)
		})
		return nil
	})
	if err != nil {
		return err
	}
	tasks = append(tasks, (*sendWorker).sendFinish)

	result, err := s.worker.enqueue(tasks, true)
	if err != nil {
		return err
	}
	return s.wait(ctx, result)
}

// SendSizeHints informs the host of this stream's preferred dimensions.
func (s *Stream) SendSizeHints(ctx context.Context, hints wire.SizeHints) error {
	result, err := s.worker.enqueue([]task{
		func(w *sendWorker) error { return w.sendSizeHints(hints) },
	}, false)
	if err != nil {
		return err
	}
	return s.wait(ctx, result)
}

// SendData sends an opaque out-of-band payload, e.g. a wire.Command
// produced by wire.EncodeCommand.
func (s *Stream) SendData(ctx context.Context, data []byte) error {
	result, err := s.worker.enqueue([]task{
		func(w *sendWorker) error { return w.sendData(data) },
	}, false)
	if err != nil {
		return err
	}
	return s.wait(ctx, result)
}

// RegisterForEvents asks the host to forward interaction events for this
// stream's window. It blocks until the request has been written to the
// connection; it does not wait for the host's reply, which arrives later
// and is reflected by IsRegisteredForEvents.
func (s *Stream) RegisterForEvents(ctx context.Context, exclusive bool) error {
	result, err := s.worker.enqueue([]task{
		func(w *sendWorker) error { return w.sendBindEvents(exclusive) },
	}, false)
	if err != nil {
		return err
	}
	return s.wait(ctx, result)
}

// IsRegisteredForEvents reports whether the host has acknowledged a
// RegisterForEvents call.
func (s *Stream) IsRegisteredForEvents() bool {
	return s.registered.Load()
}

// Events returns the channel events are delivered on after
// RegisterForEvents succeeds. It is closed when the stream disconnects,
// with a final wire.Event{Type: wire.EvtClose} sent first.
func (s *Stream) Events() <-chan wire.Event {
	return s.events
}

// SetDisconnectedCallback registers a function to be called once, from
// the reader goroutine, right after the connection is lost.
func (s *Stream) SetDisconnectedCallback(cb func()) {
	s.disconnected = cb
}

// Close terminates the stream, notifying the host before closing the
// socket.
func (s *Stream) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		result, err := s.worker.enqueue([]task{(*sendWorker).sendClose}, false)
		if err == nil {
			<-result
		}
		s.worker.stop()
		closeErr = s.conn.Close()
		<-s.readerDone
	})
	return closeErr
}

func (s *Stream) wait(ctx context.Context, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop owns all reads off the connection: registration replies and
// inbound events.
func (s *Stream) readLoop() {
	defer close(s.readerDone)
	defer func() {
		s.events <- wire.Event{Type: wire.EvtClose}
		close(s.events)
		if s.disconnected != nil {
			s.disconnected()
		}
	}()

	for {
		hdr, body, err := s.conn.Receive()
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			return
		}
		switch hdr.Type {
		case wire.MessageBindEventsReply:
			s.registered.Store(len(body) > 0 && body[0] != 0)
		case wire.MessageEvent:
			evt, err := wire.DecodeEvent(newReader(body))
			if err != nil {
				continue
			}
			select {
			case s.events <- evt:
			default:
				// Receiver too slow; drop rather than stall the reader.
			}
		case wire.MessageQuit:
			return
		}
	}
}

func newReader(b []byte) *byteReader { return &byteReader{data: b} }

type byteReader struct {
	data []byte
}

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}
