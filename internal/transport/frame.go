package transport

import (
	"encoding/json"
	"fmt"

	"github.com/zeusync/annosync/internal/compress"
	"github.com/zeusync/annosync/internal/core/replica"
	"github.com/zeusync/annosync/pkg/encoding"
)

type FrameType string

const (
	// FrameSync1 carries the sender's state vector and asks for what it misses.
	FrameSync1 FrameType = "sync1"
	// FrameSync2 answers a FrameSync1 with the missing operations.
	FrameSync2 FrameType = "sync2"
	// FrameUpdate carries an incremental update.
	FrameUpdate FrameType = "update"
)

// Frame is the unit exchanged between the peers of a room. Frames addressed
// with To are ignored by everyone else.
type Frame struct {
	Type    FrameType           `json:"type"`
	From    string              `json:"from"`
	To      string              `json:"to,omitempty"`
	State   replica.StateVector `json:"sv,omitempty"`
	Payload []byte              `json:"payload,omitempty"`
}

var _ encoding.Serializable[*Frame] = (*Frame)(nil)

func (f *Frame) Serialize() ([]byte, error) {
	return json.Marshal(f)
}

func (f *Frame) Deserialize(data []byte) error {
	if err := json.Unmarshal(data, f); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	switch f.Type {
	case FrameSync1, FrameSync2, FrameUpdate:
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidFrame, f.Type)
	}
	if f.From == "" {
		return fmt.Errorf("%w: no sender", ErrInvalidFrame)
	}
	return nil
}

func decodeFrame(data []byte) (*Frame, error) {
	return encoding.Unmarshal(data, func() *Frame { return new(Frame) })
}

// packUpdate serializes and compresses u.
func packUpdate(codec compress.Compress, u *replica.Update) ([]byte, error) {
	data, err := encoding.Marshal[*replica.Update](u)
	if err != nil {
		return nil, err
	}
	return codec.Encode(data)
}

func unpackUpdate(codec compress.Compress, payload []byte) (*replica.Update, error) {
	data, err := codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	return replica.DecodeUpdate(data)
}
