package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// EventType tags the kind of interaction an Event carries.
type EventType uint32

const (
	EvtKeyPress EventType = iota
	EvtKeyRelease
	EvtPointerMove
	EvtPointerPress
	EvtPointerRelease
	EvtWheel
	EvtTouchBegin
	EvtTouchUpdate
	EvtTouchEnd
	// EvtClose does not come from user input: the server writes one to a
	// registered connection before closing it, and the client delivers one
	// on Stream.Events when its connection ends.
	EvtClose
)

const (
	buttonLeft   = 1 << 0
	buttonRight  = 1 << 1
	buttonMiddle = 1 << 2
)

// textFieldSize is the fixed width of Event.Text on the wire: enough for
// one UTF-8 code point plus padding, matching a single keystroke.
const textFieldSize = 8

// Event is a fixed-size tagged variant carrying pointer, key, touch or
// wheel interactions between the host and a registered producer.
type Event struct {
	Type        EventType
	MouseX      int32
	MouseY      int32
	DX          int32
	DY          int32
	MouseLeft   bool
	MouseRight  bool
	MouseMiddle bool
	Key         uint32
	Modifiers   uint32
	Text        string
	// TouchID distinguishes concurrent touch points for EvtTouchBegin/
	// Update/End; unused (0) for mouse and keyboard events.
	TouchID int32
}

// EventSize is the exact wire size of a serialized Event.
const EventSize = 4*8 + 1 + textFieldSize

// Encode writes e using a stable field-by-field layout.
func (e Event) Encode(w io.Writer) error {
	fields := []int32{
		int32(e.Type), e.MouseX, e.MouseY, e.DX, e.DY,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("wire: write event: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, e.buttons()); err != nil {
		return fmt.Errorf("wire: write event buttons: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, e.Key); err != nil {
		return fmt.Errorf("wire: write event key: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, e.Modifiers); err != nil {
		return fmt.Errorf("wire: write event modifiers: %w", err)
	}
	var text [textFieldSize]byte
	copy(text[:], e.Text)
	if _, err := w.Write(text[:]); err != nil {
		return fmt.Errorf("wire: write event text: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, e.TouchID); err != nil {
		return fmt.Errorf("wire: write event touch id: %w", err)
	}
	return nil
}

// DecodeEvent reads an Event from r.
func DecodeEvent(r io.Reader) (Event, error) {
	var e Event
	var fields [5]int32
	for i := range fields {
		if err := binary.Read(r, binary.LittleEndian, &fields[i]); err != nil {
			return Event{}, fmt.Errorf("wire: read event: %w", err)
		}
	}
	var buttons uint8
	if err := binary.Read(r, binary.LittleEndian, &buttons); err != nil {
		return Event{}, fmt.Errorf("wire: read event buttons: %w", err)
	}
	var key, modifiers uint32
	if err := binary.Read(r, binary.LittleEndian, &key); err != nil {
		return Event{}, fmt.Errorf("wire: read event key: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &modifiers); err != nil {
		return Event{}, fmt.Errorf("wire: read event modifiers: %w", err)
	}
	var text [textFieldSize]byte
	if _, err := io.ReadFull(r, text[:]); err != nil {
		return Event{}, fmt.Errorf("wire: read event text: %w", err)
	}
	var touchID int32
	if err := binary.Read(r, binary.LittleEndian, &touchID); err != nil {
		return Event{}, fmt.Errorf("wire: read event touch id: %w", err)
	}

	e.Type = EventType(fields[0])
	e.MouseX, e.MouseY, e.DX, e.DY = fields[1], fields[2], fields[3], fields[4]
	e.MouseLeft = buttons&buttonLeft != 0
	e.MouseRight = buttons&buttonRight != 0
	e.MouseMiddle = buttons&buttonMiddle != 0
	e.Key = key
	e.Modifiers = modifiers
	e.Text = trimZero(text[:])
	e.TouchID = touchID
	return e, nil
}

func (e Event) buttons() uint8 {
	var b uint8
	if e.MouseLeft {
		b |= buttonLeft
	}
	if e.MouseRight {
		b |= buttonRight
	}
	if e.MouseMiddle {
		b |= buttonMiddle
	}
	return b
}

func trimZero(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
