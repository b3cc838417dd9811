package server

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/deflectio/pixelstream/transport"
	"github.com/deflectio/pixelstream/wire"
)

// connState is the per-connection state machine defined by the protocol.
type connState int

const (
	stateAwaitingOpen connState = iota
	stateStreaming
	stateTerminated
)

// connWorker owns one TCP connection end to end: it parses incoming
// messages, routes them to the dispatcher, and carries events and replies
// back to the producer. A helper goroutine (readLoop) is the only caller
// of conn.Receive; the run goroutine handles each received message and
// also drains the outbound events channel, so every write to the
// connection (bind replies, events and the final close event) happens on
// that one goroutine.
type connWorker struct {
	conn *transport.Conn
	id   SourceID
	log  zerolog.Logger
	disp *Dispatcher

	state      connState
	uri        string
	isObserver bool

	currentView     wire.View
	currentRowOrder wire.RowOrder
	currentChannel  uint8

	events     chan wire.Event
	registered bool
}

func newConnWorker(conn *transport.Conn, id SourceID, disp *Dispatcher, log zerolog.Logger) *connWorker {
	return &connWorker{
		conn:   conn,
		id:     id,
		log:    log.With().Uint64("source_id", uint64(id)).Logger(),
		disp:   disp,
		state:  stateAwaitingOpen,
		events: make(chan wire.Event, 64),
	}
}

// SendEvent implements EventSink; it is called from the dispatcher
// goroutine, so it must not block on the connection.
func (c *connWorker) SendEvent(evt wire.Event) error {
	select {
	case c.events <- evt:
		return nil
	default:
		return ErrEventQueueFull
	}
}

// run drives the connection until it closes or a fatal protocol error
// occurs. It owns both the read side and the event-forwarding write side,
// multiplexed with a helper goroutine that feeds a single incoming channel.
func (c *connWorker) run() {
	defer c.teardown()

	incoming := make(chan incomingMessage, 1)
	go c.readLoop(incoming)

	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			if msg.err != nil {
				c.log.Debug().Err(msg.err).Msg("connection closed")
				return
			}
			if !c.handle(msg.header, msg.body) {
				return
			}
		case evt := <-c.events:
			if err := c.writeEvent(evt); err != nil {
				c.log.Debug().Err(err).Msg("failed writing event")
				return
			}
		}
	}
}

type incomingMessage struct {
	header wire.Header
	body   []byte
	err    error
}

func (c *connWorker) readLoop(out chan<- incomingMessage) {
	defer close(out)
	for {
		hdr, body, err := c.conn.Receive()
		out <- incomingMessage{header: hdr, body: body, err: err}
		if err != nil {
			return
		}
		if hdr.Type == wire.MessageQuit {
			return
		}
	}
}

// handle processes one message and returns false when the connection
// should be terminated.
func (c *connWorker) handle(hdr wire.Header, body []byte) bool {
	if c.state == stateTerminated {
		return false
	}

	if c.state == stateAwaitingOpen {
		return c.handleOpen(hdr)
	}

	switch hdr.Type {
	case wire.MessageTile:
		c.handleTile(body)
	case wire.MessageFinishFrame:
		c.disp.ProcessFrameFinished(c.uri, c.id)
	case wire.MessageImageView:
		if len(body) == 1 && wire.View(body[0]) <= wire.ViewSideBySide {
			c.currentView = wire.View(body[0])
		}
	case wire.MessageImageRowOrder:
		if len(body) == 1 && wire.RowOrder(body[0]) <= wire.RowOrderBottomUp {
			c.currentRowOrder = wire.RowOrder(body[0])
		}
	case wire.MessageImageChannel:
		if len(body) == 1 {
			c.currentChannel = body[0]
		}
	case wire.MessageSizeHints:
		hints, err := wire.DecodeSizeHints(bytes.NewReader(body))
		if err != nil {
			c.log.Debug().Err(err).Msg("malformed size hints")
			return true
		}
		c.disp.ProcessSizeHints(c.uri, hints)
	case wire.MessageData:
		c.disp.ProcessData(c.uri, body)
	case wire.MessageBindEvents:
		c.handleBindEvents(false)
	case wire.MessageBindEventsEx:
		c.handleBindEvents(true)
	case wire.MessageQuit:
		c.state = stateTerminated
		return false
	default:
		// Unrecognized types are ignored, per the wire protocol's
		// forward-compatibility rule.
	}
	return true
}

func (c *connWorker) handleOpen(hdr wire.Header) bool {
	if hdr.Type != wire.MessageStreamOpen && hdr.Type != wire.MessageObserverOpen {
		c.log.Debug().Str("type", fmt.Sprint(hdr.Type)).Msg("expected stream_open or observer_open")
		c.state = stateTerminated
		return false
	}
	if hdr.URI == "" {
		c.log.Debug().Msg("empty stream uri on open")
		c.state = stateTerminated
		return false
	}

	c.uri = hdr.URI
	c.state = stateStreaming

	if hdr.Type == wire.MessageObserverOpen {
		c.isObserver = true
		c.disp.AddObserver(c.uri)
		return true
	}

	if err := c.disp.AddSource(c.uri, c.id); err != nil {
		if errors.Is(err, ErrAlreadyStarted) {
			c.log.Warn().Str("stream_id", c.uri).Err(err).Msg("source rejected, late join")
		}
		c.state = stateTerminated
		return false
	}
	return true
}

func (c *connWorker) handleTile(body []byte) {
	if len(body) < wire.SegmentParametersSize {
		return
	}
	params, err := wire.DecodeSegmentParameters(bytes.NewReader(body[:wire.SegmentParametersSize]))
	if err != nil {
		c.log.Debug().Err(err).Msg("malformed tile segment parameters")
		return
	}
	tile := wire.Tile{
		SegmentParameters: params,
		View:              c.currentView,
		RowOrder:          c.currentRowOrder,
		Channel:           c.currentChannel,
		ImageData:         append([]byte(nil), body[wire.SegmentParametersSize:]...),
	}
	c.disp.ProcessTile(c.uri, c.id, tile)
}

func (c *connWorker) handleBindEvents(exclusive bool) {
	granted := c.disp.RegisterToEvents(c.uri, exclusive, c)
	c.registered = granted
	var reply byte
	if granted {
		reply = 1
	}
	hdr := wire.NewHeader(wire.MessageBindEventsReply, 1, c.uri)
	if err := c.conn.Send(hdr, []byte{reply}); err != nil {
		c.log.Debug().Err(err).Msg("failed to send bind_events_reply")
	}
}

func (c *connWorker) writeEvent(evt wire.Event) error {
	var buf bytes.Buffer
	if err := evt.Encode(&buf); err != nil {
		return err
	}
	hdr := wire.NewHeader(wire.MessageEvent, uint32(buf.Len()), c.uri)
	return c.conn.Send(hdr, buf.Bytes())
}

// teardown runs once the connection loop exits, notifying the dispatcher
// and writing a synthetic close event to a registered receiver. The close
// event is only delivered while the connection is still open: after a
// quit message, transport.Conn.Receive has already closed it, and the
// write fails silently.
func (c *connWorker) teardown() {
	if c.registered {
		_ = c.writeEvent(wire.Event{Type: wire.EvtClose})
	}
	if c.uri != "" {
		if c.isObserver {
			c.disp.RemoveObserver(c.uri)
		} else {
			c.disp.RemoveSource(c.uri, c.id)
		}
	}
	c.conn.Close()
}
