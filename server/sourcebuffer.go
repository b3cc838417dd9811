package server

import "github.com/deflectio/pixelstream/wire"

// frameIndex counts frames pushed onto a sourceBuffer; it starts at 0 and
// only ever increases.
type frameIndex uint32

// sourceBuffer queues tiles from a single source (one connection) until
// each frame is complete, one source-local frame at a time.
type sourceBuffer struct {
	frames         [][]wire.Tile
	backFrameIndex frameIndex
}

func newSourceBuffer() *sourceBuffer {
	return &sourceBuffer{frames: [][]wire.Tile{nil}}
}

// tiles returns the tiles at the front of the queue.
func (b *sourceBuffer) tiles() []wire.Tile {
	return b.frames[0]
}

func (b *sourceBuffer) isBackFrameEmpty() bool {
	return len(b.frames[len(b.frames)-1]) == 0
}

// insert appends a tile to the back (currently-filling) frame.
func (b *sourceBuffer) insert(tile wire.Tile) {
	last := len(b.frames) - 1
	b.frames[last] = append(b.frames[last], tile)
}

// push closes the back frame and starts a new, empty one.
func (b *sourceBuffer) push() {
	b.frames = append(b.frames, nil)
	b.backFrameIndex++
}

// pop discards the front frame. The back (currently-filling) frame is
// never popped, so the queue always has at least one element left.
func (b *sourceBuffer) pop() {
	b.frames = b.frames[1:]
}

func (b *sourceBuffer) queueSize() int {
	return len(b.frames)
}
