package replica

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeusync/annosync/internal/core/record"
	"github.com/zeusync/annosync/pkg/encoding"
)

// Origin tags a transaction with the party that caused it.
type Origin string

const (
	Local   Origin = ""
	Remote  Origin = "remote"
	Durable Origin = "durable"
	Reset   Origin = "reset"
	Seed    Origin = "seed"
)

// ItemID identifies one operation: the client that produced it and the
// client's operation counter.
type ItemID struct {
	Client string `json:"c"`
	Seq    uint64 `json:"s"`
}

func (id ItemID) String() string {
	return id.Client + ":" + strconv.FormatUint(id.Seq, 10)
}

func ParseItemID(s string) (ItemID, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return ItemID{}, fmt.Errorf("item id %q: %w", s, ErrMalformedOp)
	}
	seq, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return ItemID{}, fmt.Errorf("item id %q: %w", s, ErrMalformedOp)
	}
	return ItemID{Client: s[:i], Seq: seq}, nil
}

type OpKind string

const (
	OpInsert OpKind = "ins"
	OpDelete OpKind = "del"
	OpSet    OpKind = "set"
	OpRemove OpKind = "rm"
)

// Op is one replicated mutation. Inserts are identified by ID and placed after
// Left; deletes name their Target; map ops carry Key.
type Op struct {
	Kind      OpKind        `json:"k"`
	Container string        `json:"n"`
	ID        ItemID        `json:"id"`
	Clock     uint64        `json:"t"`
	Left      *ItemID       `json:"l,omitempty"`
	Target    *ItemID       `json:"x,omitempty"`
	Key       string        `json:"key,omitempty"`
	Value     record.Record `json:"v,omitempty"`
}

func (op Op) validate() error {
	if op.ID.Client == "" || op.ID.Seq == 0 || op.Container == "" {
		return ErrMalformedOp
	}
	switch op.Kind {
	case OpInsert:
		if op.Value == nil {
			return ErrMalformedOp
		}
	case OpDelete:
		if op.Target == nil {
			return ErrMalformedOp
		}
	case OpSet:
		if op.Key == "" || op.Value == nil {
			return ErrMalformedOp
		}
	case OpRemove:
		if op.Key == "" {
			return ErrMalformedOp
		}
	default:
		return ErrMalformedOp
	}
	return nil
}

func (op Op) isArray() bool { return op.Kind == OpInsert || op.Kind == OpDelete }

// Update is a batch of operations exchanged between replicas and persisted.
type Update struct {
	Ops []Op `json:"ops"`
}

var _ encoding.Serializable[*Update] = (*Update)(nil)

func (u *Update) Serialize() ([]byte, error) {
	return json.Marshal(u)
}

func (u *Update) Deserialize(data []byte) error {
	if err := json.Unmarshal(data, u); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}
	return nil
}

func (u *Update) Empty() bool { return u == nil || len(u.Ops) == 0 }

// DecodeUpdate parses a serialized update.
func DecodeUpdate(data []byte) (*Update, error) {
	return encoding.Unmarshal(data, func() *Update { return new(Update) })
}

// Merge concatenates updates. Duplicate operations are harmless when applied.
func Merge(updates ...*Update) *Update {
	out := &Update{}
	for _, u := range updates {
		if u != nil {
			out.Ops = append(out.Ops, u.Ops...)
		}
	}
	return out
}

// StateVector maps a client id to the number of its operations already integrated.
type StateVector map[string]uint64

func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for k, v := range sv {
		out[k] = v
	}
	return out
}

// Covers reports whether sv has integrated everything other has.
func (sv StateVector) Covers(other StateVector) bool {
	for client, seq := range other {
		if sv[client] < seq {
			return false
		}
	}
	return true
}
