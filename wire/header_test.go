package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		hdr  Header
	}{
		{"empty uri", NewHeader(MessageNone, 0, "")},
		{"tile with uri", NewHeader(MessageTile, 1234, "wall-1")},
		{"max uri length", NewHeader(MessageStreamOpen, 0, strings.Repeat("a", URILength))},
		{"observer open", NewHeader(MessageObserverOpen, 0, "obs")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := tt.hdr.Encode(&buf); err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if buf.Len() != HeaderSize {
				t.Fatalf("encoded size = %d, want %d", buf.Len(), HeaderSize)
			}

			got, err := Decode(&buf)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != tt.hdr {
				t.Errorf("Decode() = %+v, want %+v", got, tt.hdr)
			}
		})
	}
}

func TestHeaderURITruncatesOnRuneBoundary(t *testing.T) {
	// 30 copies of a 3-byte rune overflow the 64-byte field; truncation must
	// not split the final rune.
	uri := strings.Repeat("☃", 30) // snowman, 3 bytes each = 90 bytes
	hdr := NewHeader(MessageStreamOpen, 0, uri)

	var buf bytes.Buffer
	if err := hdr.Encode(&buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	for _, r := range got.URI {
		if r == '�' {
			t.Fatalf("decoded URI contains a replacement rune, truncation split a codepoint: %q", got.URI)
		}
	}
}

func TestSegmentParametersRoundTrip(t *testing.T) {
	p := SegmentParameters{Format: FormatJPEG, X: 10, Y: 20, Width: 320, Height: 240}

	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if buf.Len() != SegmentParametersSize {
		t.Fatalf("encoded size = %d, want %d", buf.Len(), SegmentParametersSize)
	}

	got, err := DecodeSegmentParameters(&buf)
	if err != nil {
		t.Fatalf("DecodeSegmentParameters() error = %v", err)
	}
	if got != p {
		t.Errorf("DecodeSegmentParameters() = %+v, want %+v", got, p)
	}
}
