package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Command is a small named-argument variant a producer may send inside a
// MessageData body (see client.Stream.SendData), for out-of-band controls (e.g. gesture commands) that
// don't warrant a dedicated message type. It is opt-in: MessageData bodies
// remain opaque bytes on the wire, and a receiver only decodes a Command
// out of them if it chooses to.
type Command struct {
	Name string
	Args []string
}

// EncodeCommand serializes c for embedding in a MessageData body.
func EncodeCommand(c Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("wire: encode command: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCommand deserializes a Command previously produced by EncodeCommand.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return Command{}, fmt.Errorf("wire: decode command: %w", err)
	}
	return c, nil
}
