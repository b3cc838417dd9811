package server

import (
	"testing"

	"github.com/deflectio/pixelstream/wire"
)

func TestSourceBufferInsertAndPush(t *testing.T) {
	b := newSourceBuffer()
	if !b.isBackFrameEmpty() {
		t.Fatal("fresh buffer should have an empty back frame")
	}

	b.insert(wire.Tile{SegmentParameters: wire.SegmentParameters{Width: 1, Height: 1}})
	if b.isBackFrameEmpty() {
		t.Fatal("back frame should not be empty after insert")
	}
	if len(b.tiles()) != 0 {
		t.Fatalf("front frame should still be empty before push, got %d tiles", len(b.tiles()))
	}

	b.push()
	if b.backFrameIndex != 1 {
		t.Fatalf("backFrameIndex = %d, want 1", b.backFrameIndex)
	}
	if len(b.tiles()) != 1 {
		t.Fatalf("front frame should have 1 tile after push, got %d", len(b.tiles()))
	}
	if !b.isBackFrameEmpty() {
		t.Fatal("new back frame should be empty")
	}
}

func TestSourceBufferPopRetainsBackFrame(t *testing.T) {
	b := newSourceBuffer()
	b.insert(wire.Tile{})
	b.push()
	b.insert(wire.Tile{})
	b.push()

	if got := b.queueSize(); got != 3 {
		t.Fatalf("queueSize = %d, want 3", got)
	}

	b.pop()
	if got := b.queueSize(); got != 2 {
		t.Fatalf("queueSize after pop = %d, want 2", got)
	}

	b.pop()
	if got := b.queueSize(); got != 1 {
		t.Fatalf("queueSize after second pop = %d, want 1", got)
	}
	if !b.isBackFrameEmpty() {
		t.Fatal("the remaining frame should be the empty, currently-filling back frame")
	}
}
