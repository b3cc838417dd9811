package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/deflectio/pixelstream/wire"
)

type fakeHost struct {
	mu sync.Mutex

	opened    []string
	closed    []string
	frames    []*Frame
	hints     []wire.SizeHints
	data      [][]byte
	exceptons []error
	grantAll  bool
}

func (h *fakeHost) PixelStreamOpened(uri string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, uri)
}

func (h *fakeHost) PixelStreamClosed(uri string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, uri)
}

func (h *fakeHost) ReceivedFrame(frame *Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, frame)
}

func (h *fakeHost) ReceivedSizeHints(uri string, hints wire.SizeHints) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hints = append(h.hints, hints)
}

func (h *fakeHost) ReceivedData(uri string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = append(h.data, data)
}

func (h *fakeHost) RegisterToEvents(uri string, exclusive bool, sink EventSink) bool {
	return h.grantAll
}

func (h *fakeHost) PixelStreamException(uri string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exceptons = append(h.exceptons, err)
}

func (h *fakeHost) lastFrame() *Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.frames) == 0 {
		return nil
	}
	return h.frames[len(h.frames)-1]
}

func (h *fakeHost) frameCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func newTestDispatcher(host Host) *Dispatcher {
	return NewDispatcher(host, zerolog.Nop())
}

func TestDispatcherSingleSourceTwoFrames(t *testing.T) {
	host := &fakeHost{}
	d := newTestDispatcher(host)
	defer d.Close()

	if err := d.AddSource("t", 1); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	d.ProcessTile("t", 1, wire.Tile{SegmentParameters: wire.SegmentParameters{Width: 640, Height: 480}})
	d.ProcessFrameFinished("t", 1)

	d.RequestFrame("t")
	waitForFrameCount(t, host, 1)
	if got := host.lastFrame(); len(got.Tiles) != 1 {
		t.Fatalf("frame 1 tiles = %d, want 1", len(got.Tiles))
	}

	d.ProcessTile("t", 1, wire.Tile{SegmentParameters: wire.SegmentParameters{Width: 10, Height: 10}})
	d.ProcessFrameFinished("t", 1)
	d.RequestFrame("t")
	waitForFrameCount(t, host, 2)
	if got := host.lastFrame(); got.Tiles[0].Width != 10 {
		t.Fatalf("frame 2 tile width = %d, want 10", got.Tiles[0].Width)
	}
}

func TestDispatcherRequestFrameBeforeComplete(t *testing.T) {
	host := &fakeHost{}
	d := newTestDispatcher(host)
	defer d.Close()

	if err := d.AddSource("t", 1); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	d.RequestFrame("t") // credit granted before any tile exists

	if host.frameCount() != 0 {
		t.Fatal("no frame should be sent before any source finishes")
	}

	d.ProcessTile("t", 1, wire.Tile{SegmentParameters: wire.SegmentParameters{Width: 1, Height: 1}})
	d.ProcessFrameFinished("t", 1)
	waitForFrameCount(t, host, 1)
}

func TestDispatcherLateJoinRejected(t *testing.T) {
	host := &fakeHost{}
	d := newTestDispatcher(host)
	defer d.Close()

	if err := d.AddSource("t", 1); err != nil {
		t.Fatalf("AddSource(1): %v", err)
	}
	d.ProcessTile("t", 1, wire.Tile{})
	d.ProcessFrameFinished("t", 1)
	d.RequestFrame("t")
	waitForFrameCount(t, host, 1)

	if err := d.AddSource("t", 2); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("AddSource(2) after dispatch = %v, want ErrAlreadyStarted", err)
	}

	// Source 1 continues to function normally.
	d.ProcessTile("t", 1, wire.Tile{})
	d.ProcessFrameFinished("t", 1)
	d.RequestFrame("t")
	waitForFrameCount(t, host, 2)
}

func TestDispatcherOverflowReportsException(t *testing.T) {
	host := &fakeHost{}
	d := newTestDispatcher(host)
	defer d.Close()

	if err := d.AddSource("t", 1); err != nil {
		t.Fatalf("AddSource(1): %v", err)
	}
	if err := d.AddSource("t", 2); err != nil {
		t.Fatalf("AddSource(2): %v", err)
	}

	for i := 0; i < 151; i++ {
		d.ProcessFrameFinished("t", 1)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		host.mu.Lock()
		n := len(host.exceptons)
		host.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	host.mu.Lock()
	defer host.mu.Unlock()
	if len(host.exceptons) == 0 {
		t.Fatal("expected a PixelStreamException for queue overflow")
	}
	if !errors.Is(host.exceptons[len(host.exceptons)-1], ErrQueueOverflow) {
		t.Fatalf("last exception = %v, want ErrQueueOverflow", host.exceptons[len(host.exceptons)-1])
	}
}

func TestDispatcherOpenCloseLifecycle(t *testing.T) {
	host := &fakeHost{}
	d := newTestDispatcher(host)
	defer d.Close()

	if err := d.AddSource("t", 1); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	d.RemoveSource("t", 1)

	host.mu.Lock()
	defer host.mu.Unlock()
	if len(host.opened) != 1 || host.opened[0] != "t" {
		t.Fatalf("opened = %v, want [t]", host.opened)
	}
	if len(host.closed) != 1 || host.closed[0] != "t" {
		t.Fatalf("closed = %v, want [t]", host.closed)
	}
}

func TestDispatcherBindEvents(t *testing.T) {
	host := &fakeHost{grantAll: true}
	d := newTestDispatcher(host)
	defer d.Close()

	granted := d.RegisterToEvents("t", true, nil)
	if !granted {
		t.Fatal("expected registration to be granted")
	}
}

func waitForFrameCount(t *testing.T, host *fakeHost, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if host.frameCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("frameCount never reached %d, got %d", n, host.frameCount())
}
