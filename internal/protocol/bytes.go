package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Bytes is a binary payload in an acknowledgement.
//
// It marshals to the Node.js Buffer JSON shape {"type":"Buffer","data":[...]}
// that browser wallets produce, and unmarshals from that shape, a bare array
// of byte values, or a base64 string.
type Bytes []byte

type bufferJSON struct {
	Type string `json:"type"`
	Data []int  `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	data := make([]int, len(b))
	for i, v := range b {
		data[i] = int(v)
	}
	return json.Marshal(bufferJSON{Type: "Buffer", Data: data})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*b = nil
		return nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("decode base64 bytes: %w", err)
		}
		*b = decoded
		return nil
	case '[':
		var data []int
		if err := json.Unmarshal(raw, &data); err != nil {
			return err
		}
		return b.fromInts(data)
	case '{':
		var buf bufferJSON
		if err := json.Unmarshal(raw, &buf); err != nil {
			return err
		}
		if buf.Type != "" && buf.Type != "Buffer" {
			return fmt.Errorf("unexpected buffer type %q", buf.Type)
		}
		return b.fromInts(buf.Data)
	}
	return fmt.Errorf("unsupported bytes encoding: %s", raw)
}

func (b *Bytes) fromInts(data []int) error {
	out := make([]byte, len(data))
	for i, v := range data {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value out of range at %d: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
