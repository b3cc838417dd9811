package server

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/deflectio/pixelstream/wire"
)

// Dispatcher is the single-threaded controller for every stream's receive
// buffer. All mutations arrive as closures on one command channel and run
// on a single goroutine, matching the "exactly one thread mutates a given
// ReceiveBuffer" rule.
type Dispatcher struct {
	cmds chan func(*dispatcherState)
	done chan struct{}
}

type dispatcherState struct {
	host    Host
	log     zerolog.Logger
	streams map[string]*streamState
}

type streamState struct {
	buffer    *receiveBuffer
	observers int
}

// NewDispatcher starts the dispatcher goroutine and returns a handle to it.
func NewDispatcher(host Host, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		cmds: make(chan func(*dispatcherState), 256),
		done: make(chan struct{}),
	}
	go d.run(host, log)
	return d
}

func (d *Dispatcher) run(host Host, log zerolog.Logger) {
	defer close(d.done)
	state := &dispatcherState{
		host:    host,
		log:     log,
		streams: make(map[string]*streamState),
	}
	for cmd := range d.cmds {
		cmd(state)
	}
}

// Close stops accepting new commands and waits for the goroutine to drain.
func (d *Dispatcher) Close() {
	close(d.cmds)
	<-d.done
}

func (d *Dispatcher) exec(fn func(*dispatcherState)) {
	done := make(chan struct{})
	d.cmds <- func(s *dispatcherState) {
		fn(s)
		close(done)
	}
	<-done
}

func (s *dispatcherState) streamFor(uri string) *streamState {
	st, ok := s.streams[uri]
	if !ok {
		st = &streamState{buffer: newReceiveBuffer()}
		s.streams[uri] = st
	}
	return st
}

func (s *dispatcherState) isFirstJoin(st *streamState) bool {
	return st.buffer.sourceCount() == 0 && st.observers == 0
}

func (s *dispatcherState) closeStreamIfEmpty(uri string, st *streamState) {
	if st.buffer.sourceCount() == 0 && st.observers == 0 {
		delete(s.streams, uri)
		s.host.PixelStreamClosed(uri)
	}
}

// AddSource registers a new tile-contributing source for uri. It returns
// ErrAlreadyStarted if the stream has already dispatched a frame, matching
// the no-late-join rule.
func (d *Dispatcher) AddSource(uri string, id SourceID) error {
	var result error
	d.exec(func(s *dispatcherState) {
		st := s.streamFor(uri)
		firstJoin := s.isFirstJoin(st)
		if err := st.buffer.addSource(id); err != nil {
			s.host.PixelStreamException(uri, err)
			result = err
			return
		}
		if firstJoin {
			s.host.PixelStreamOpened(uri)
		}
	})
	return result
}

// RemoveSource removes a source, closing the stream if it now has no
// sources and no observers.
func (d *Dispatcher) RemoveSource(uri string, id SourceID) {
	d.exec(func(s *dispatcherState) {
		st, ok := s.streams[uri]
		if !ok {
			return
		}
		st.buffer.removeSource(id)
		s.closeStreamIfEmpty(uri, st)
	})
}

// AddObserver attaches an events/metadata-only connection to uri.
func (d *Dispatcher) AddObserver(uri string) {
	d.exec(func(s *dispatcherState) {
		st := s.streamFor(uri)
		firstJoin := s.isFirstJoin(st)
		st.observers++
		if firstJoin {
			s.host.PixelStreamOpened(uri)
		}
	})
}

// RemoveObserver detaches an observer connection from uri.
func (d *Dispatcher) RemoveObserver(uri string) {
	d.exec(func(s *dispatcherState) {
		st, ok := s.streams[uri]
		if !ok {
			return
		}
		if st.observers > 0 {
			st.observers--
		}
		s.closeStreamIfEmpty(uri, st)
	})
}

// ProcessTile appends tile to the in-progress frame for (uri, id).
func (d *Dispatcher) ProcessTile(uri string, id SourceID, tile wire.Tile) {
	d.exec(func(s *dispatcherState) {
		st, ok := s.streams[uri]
		if !ok {
			return
		}
		st.buffer.insert(tile, id)
	})
}

// ProcessFrameFinished closes out the source's in-progress frame and, if
// a frame is now complete and the host has credit to receive it, dispatches
// immediately.
func (d *Dispatcher) ProcessFrameFinished(uri string, id SourceID) {
	d.exec(func(s *dispatcherState) {
		st, ok := s.streams[uri]
		if !ok {
			return
		}
		if err := st.buffer.finishFrameForSource(id); err != nil {
			s.host.PixelStreamException(uri, err)
			return
		}
		if st.buffer.isAllowedToSend() && st.buffer.hasCompleteFrame() {
			s.sendFrame(uri, st)
		}
	})
}

// RequestFrame grants a one-shot send credit for uri; if a frame is
// already complete it is dispatched immediately.
func (d *Dispatcher) RequestFrame(uri string) {
	d.exec(func(s *dispatcherState) {
		st, ok := s.streams[uri]
		if !ok {
			return
		}
		st.buffer.setAllowedToSend(true)
		if st.buffer.hasCompleteFrame() {
			s.sendFrame(uri, st)
		}
	})
}

// ProcessSizeHints forwards a source's preferred dimensions to the host.
func (d *Dispatcher) ProcessSizeHints(uri string, hints wire.SizeHints) {
	d.exec(func(s *dispatcherState) {
		s.host.ReceivedSizeHints(uri, hints)
	})
}

// ProcessData forwards an out-of-band payload to the host.
func (d *Dispatcher) ProcessData(uri string, data []byte) {
	d.exec(func(s *dispatcherState) {
		s.host.ReceivedData(uri, data)
	})
}

// RegisterToEvents asks the host whether sink may receive uri's events.
func (d *Dispatcher) RegisterToEvents(uri string, exclusive bool, sink EventSink) bool {
	var granted bool
	d.exec(func(s *dispatcherState) {
		granted = s.host.RegisterToEvents(uri, exclusive, sink)
	})
	return granted
}

// DeleteStream unconditionally tears down uri, regardless of remaining
// sources or observers.
func (d *Dispatcher) DeleteStream(uri string) {
	d.exec(func(s *dispatcherState) {
		if _, ok := s.streams[uri]; !ok {
			return
		}
		delete(s.streams, uri)
		s.host.PixelStreamClosed(uri)
	})
}

// sendFrame consumes every complete frame queued on st's buffer, keeping
// only the newest, normalizes row order, and hands the result to the host.
// Must run on the dispatcher goroutine.
func (s *dispatcherState) sendFrame(uri string, st *streamState) {
	tiles, err := consumeLatestFrame(st.buffer)
	if err != nil {
		s.host.PixelStreamException(uri, err)
		return
	}
	st.buffer.setAllowedToSend(false)

	frame := &Frame{URI: uri, Tiles: tiles}
	order, err := frame.DetermineRowOrder()
	if err != nil {
		s.host.PixelStreamException(uri, fmt.Errorf("dispatch %s: %w", uri, err))
		return
	}
	if order == wire.RowOrderBottomUp {
		frame.MirrorVertically()
	}
	s.log.Debug().Str("stream_id", uri).Int("tiles", len(frame.Tiles)).Msg("dispatching frame")
	s.host.ReceivedFrame(frame)
}

// consumeLatestFrame pops every complete frame off buf, keeping only the
// tiles of the newest one: lazy producers may queue faster than the host
// consumes, and the contract is "always latest", not "never drop".
func consumeLatestFrame(buf *receiveBuffer) ([]wire.Tile, error) {
	var tiles []wire.Tile
	for buf.hasCompleteFrame() {
		popped, err := buf.popFrame()
		if err != nil {
			return nil, err
		}
		tiles = popped
	}
	return tiles, nil
}
