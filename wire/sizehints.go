package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SizeHints carries optional min/max/preferred size hints from a producer.
// A zero value for any field means "unspecified".
type SizeHints struct {
	MinWidth        uint32
	MinHeight       uint32
	MaxWidth        uint32
	MaxHeight       uint32
	PreferredWidth  uint32
	PreferredHeight uint32
}

// SizeHintsSize is the exact wire size of SizeHints.
const SizeHintsSize = 4 * 6

// Encode writes h using a stable field-by-field layout.
func (h SizeHints) Encode(w io.Writer) error {
	fields := []uint32{
		h.MinWidth, h.MinHeight,
		h.MaxWidth, h.MaxHeight,
		h.PreferredWidth, h.PreferredHeight,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("wire: write size hints: %w", err)
		}
	}
	return nil
}

// DecodeSizeHints reads a SizeHints from r.
func DecodeSizeHints(r io.Reader) (SizeHints, error) {
	var fields [6]uint32
	for i := range fields {
		if err := binary.Read(r, binary.LittleEndian, &fields[i]); err != nil {
			return SizeHints{}, fmt.Errorf("wire: read size hints: %w", err)
		}
	}
	return SizeHints{
		MinWidth: fields[0], MinHeight: fields[1],
		MaxWidth: fields[2], MaxHeight: fields[3],
		PreferredWidth: fields[4], PreferredHeight: fields[5],
	}, nil
}
