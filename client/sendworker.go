package client

import (
	"errors"
	"fmt"
	"sync"

	"github.com/deflectio/pixelstream/transport"
	"github.com/deflectio/pixelstream/wire"
)

// ErrPendingFinish is returned by Stream.Finish when a previous Finish has
// been enqueued but has not completed yet.
var ErrPendingFinish = errors.New("client: a finishFrame request is already pending")

// task is one unit of work executed on the worker goroutine; it has
// exclusive access to the connection and the worker's cached state.
type task func(*sendWorker) error

type request struct {
	tasks    []task
	isFinish bool
	result   chan error
}

// sendWorker serializes all writes to a single connection onto one
// goroutine, mirroring the wire protocol's single-owner socket rule. It
// also remembers the last view/row-order/channel sent, so a Stream only
// re-sends those control messages when they actually change.
type sendWorker struct {
	conn *transport.Conn
	id   string

	requests chan request

	mu              sync.Mutex
	pendingFinish   bool
	currentView     wire.View
	currentRowOrder wire.RowOrder
	currentChannel  uint8
	haveView        bool
	haveRowOrder    bool
	haveChannel     bool
}

func newSendWorker(conn *transport.Conn, id string) *sendWorker {
	w := &sendWorker{
		conn:     conn,
		id:       id,
		requests: make(chan request, 64),
	}
	go w.run()
	return w
}

func (w *sendWorker) run() {
	for req := range w.requests {
		var err error
		for _, t := range req.tasks {
			if err = t(w); err != nil {
				break
			}
		}
		if req.isFinish {
			w.mu.Lock()
			w.pendingFinish = false
			w.mu.Unlock()
		}
		req.result <- err
		close(req.result)
	}
}

// enqueue submits tasks to run in order on the worker goroutine and
// returns a channel that receives the single result once they complete
// (or the first one fails). isFinish requests are rejected while another
// finish is still in flight.
func (w *sendWorker) enqueue(tasks []task, isFinish bool) (<-chan error, error) {
	if isFinish {
		w.mu.Lock()
		if w.pendingFinish {
			w.mu.Unlock()
			return nil, ErrPendingFinish
		}
		w.pendingFinish = true
		w.mu.Unlock()
	}

	result := make(chan error, 1)
	w.requests <- request{tasks: tasks, isFinish: isFinish, result: result}
	return result, nil
}

func (w *sendWorker) stop() {
	close(w.requests)
}

func (w *sendWorker) send(msgType wire.MessageType, body []byte) error {
	hdr := wire.NewHeader(msgType, uint32(len(body)), w.id)
	if err := w.conn.Send(hdr, body); err != nil {
		return fmt.Errorf("client: send %v: %w", msgType, err)
	}
	return nil
}

func (w *sendWorker) sendImageViewIfChanged(view wire.View) error {
	if w.haveView && w.currentView == view {
		return nil
	}
	if err := w.send(wire.MessageImageView, []byte{byte(view)}); err != nil {
		return err
	}
	w.currentView, w.haveView = view, true
	return nil
}

func (w *sendWorker) sendRowOrderIfChanged(order wire.RowOrder) error {
	if w.haveRowOrder && w.currentRowOrder == order {
		return nil
	}
	if err := w.send(wire.MessageImageRowOrder, []byte{byte(order)}); err != nil {
		return err
	}
	w.currentRowOrder, w.haveRowOrder = order, true
	return nil
}

func (w *sendWorker) sendChannelIfChanged(channel uint8) error {
	if w.haveChannel && w.currentChannel == channel {
		return nil
	}
	if err := w.send(wire.MessageImageChannel, []byte{channel}); err != nil {
		return err
	}
	w.currentChannel, w.haveChannel = channel, true
	return nil
}

func (w *sendWorker) sendSegment(tile wire.Tile) error {
	if err := w.sendImageViewIfChanged(tile.View); err != nil {
		return err
	}
	if err := w.sendRowOrderIfChanged(tile.RowOrder); err != nil {
		return err
	}
	if err := w.sendChannelIfChanged(tile.Channel); err != nil {
		return err
	}
	var buf countingBuffer
	if err := tile.SegmentParameters.Encode(&buf); err != nil {
		return err
	}
	body := append(buf.data, tile.ImageData...)
	return w.send(wire.MessageTile, body)
}

func (w *sendWorker) sendFinish() error {
	return w.send(wire.MessageFinishFrame, nil)
}

func (w *sendWorker) sendData(data []byte) error {
	return w.send(wire.MessageData, data)
}

func (w *sendWorker) sendSizeHints(hints wire.SizeHints) error {
	var buf countingBuffer
	if err := hints.Encode(&buf); err != nil {
		return err
	}
	return w.send(wire.MessageSizeHints, buf.data)
}

func (w *sendWorker) sendBindEvents(exclusive bool) error {
	msgType := wire.MessageBindEvents
	body := []byte{0}
	if exclusive {
		msgType = wire.MessageBindEventsEx
		body = []byte{1}
	}
	return w.send(msgType, body)
}

func (w *sendWorker) sendOpenStream() error {
	return w.send(wire.MessageStreamOpen, nil)
}

func (w *sendWorker) sendClose() error {
	return w.send(wire.MessageQuit, nil)
}

// countingBuffer is an io.Writer that just appends to a byte slice; used
// to encode fixed wire.* structs without reaching for bytes.Buffer for
// every small message.
type countingBuffer struct {
	data []byte
}

func (b *countingBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
