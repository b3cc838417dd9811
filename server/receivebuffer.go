package server

import (
	"errors"
	"fmt"

	"github.com/deflectio/pixelstream/wire"
)

// SourceID identifies one connection contributing tiles to a stream.
type SourceID uint64

// maxQueueSize bounds how many frames a single source may queue ahead of
// the slowest sibling source before the stream is considered stalled; at
// 30Hz this is roughly 5 seconds of buffering.
const maxQueueSize = 150

// ErrAlreadyStarted is returned by receiveBuffer.addSource when a stream
// has already delivered at least one complete frame: late joiners would
// see a stream missing tiles from earlier frames, so they are rejected.
var ErrAlreadyStarted = errors.New("server: stream already started, late join forbidden")

// ErrQueueOverflow is returned by receiveBuffer.finishFrameForSource when
// a source has buffered more frames than its siblings can drain.
var ErrQueueOverflow = errors.New("server: source queue exceeds maximum size")

// ErrNoSources is returned by receiveBuffer.popFrame when called with no
// registered sources; hasCompleteFrame should already have prevented this
// from happening through normal dispatcher use, so this is a precondition
// violation rather than an expected runtime condition.
var ErrNoSources = errors.New("server: popFrame called with no sources")

// receiveBuffer aggregates tiles from every source contributing to one
// stream and delivers frames once all sources have finished the same
// frame index.
type receiveBuffer struct {
	lastFrameComplete frameIndex
	sources           map[SourceID]*sourceBuffer
	allowedToSend     bool
}

func newReceiveBuffer() *receiveBuffer {
	return &receiveBuffer{sources: make(map[SourceID]*sourceBuffer)}
}

func (b *receiveBuffer) addSource(id SourceID) error {
	if b.lastFrameComplete > 0 {
		return ErrAlreadyStarted
	}
	b.sources[id] = newSourceBuffer()
	return nil
}

func (b *receiveBuffer) removeSource(id SourceID) {
	delete(b.sources, id)
	if len(b.sources) == 0 {
		b.lastFrameComplete = 0
	}
}

func (b *receiveBuffer) sourceCount() int {
	return len(b.sources)
}

func (b *receiveBuffer) insert(tile wire.Tile, id SourceID) {
	if src, ok := b.sources[id]; ok {
		src.insert(tile)
	}
}

func (b *receiveBuffer) finishFrameForSource(id SourceID) error {
	src, ok := b.sources[id]
	if !ok {
		return nil
	}
	if src.queueSize() > maxQueueSize {
		return fmt.Errorf("%w: source %d has %d queued frames", ErrQueueOverflow, id, src.queueSize())
	}
	src.push()
	return nil
}

// hasCompleteFrame reports whether every source has advanced past the
// last frame index that was fully delivered.
func (b *receiveBuffer) hasCompleteFrame() bool {
	if len(b.sources) == 0 {
		return false
	}
	for _, src := range b.sources {
		if src.backFrameIndex <= b.lastFrameComplete {
			return false
		}
	}
	return true
}

// popFrame collects and removes the front frame from every source,
// advancing lastFrameComplete by one.
func (b *receiveBuffer) popFrame() ([]wire.Tile, error) {
	if len(b.sources) == 0 {
		return nil, ErrNoSources
	}

	var tiles []wire.Tile
	for _, src := range b.sources {
		if src.backFrameIndex > b.lastFrameComplete {
			tiles = append(tiles, src.tiles()...)
			src.pop()
		}
	}
	b.lastFrameComplete++
	return tiles, nil
}

func (b *receiveBuffer) setAllowedToSend(enable bool) {
	b.allowedToSend = enable
}

func (b *receiveBuffer) isAllowedToSend() bool {
	return b.allowedToSend
}
