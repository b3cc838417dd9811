package server

import "github.com/deflectio/pixelstream/wire"

// EventSink delivers an interaction event to whichever connection
// registered for a stream's events.
type EventSink interface {
	SendEvent(wire.Event) error
}

// Host reacts to stream lifecycle and content events produced by the
// dispatcher. All methods are called from the dispatcher's single
// goroutine and must not block.
type Host interface {
	// PixelStreamOpened is called when the first source or observer joins
	// uri.
	PixelStreamOpened(uri string)

	// PixelStreamClosed is called once neither a source nor an observer
	// remains for uri, or when the stream is deleted.
	PixelStreamClosed(uri string)

	// ReceivedFrame is called with the newest frame that every source has
	// finished, once a RequestFrame credit is outstanding for the stream.
	ReceivedFrame(frame *Frame)

	// ReceivedSizeHints is called when a source reports its preferred
	// dimensions.
	ReceivedSizeHints(uri string, hints wire.SizeHints)

	// ReceivedData is called when a source sends an out-of-band payload.
	ReceivedData(uri string, data []byte)

	// RegisterToEvents is called when a connection asks to receive
	// interaction events for uri. It returns whether the registration
	// succeeded; sink is retained and used for later event delivery.
	RegisterToEvents(uri string, exclusive bool, sink EventSink) bool

	// PixelStreamException reports an error on uri's stream: a rejected
	// late-joining source, a source queue overflow, or a frame whose tiles
	// disagree on row order. The dispatcher does not close the stream
	// itself.
	PixelStreamException(uri string, err error)
}
