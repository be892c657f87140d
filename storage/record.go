package storage

import (
	"encoding/json"
	"fmt"
)

// recordVer is the current Record format version.
const recordVer = 1

// Record is a stored ledger value: a JSON document plus an optional
// monotonically increasing version used for compare-and-swap.
type Record struct {
	Ver     int             `json:"ver"`
	Data    json.RawMessage `json:"data"`
	Version uint64          `json:"version,omitempty"`
}

// NewRecord encodes v into a Record.
func NewRecord(v any, version ...uint64) (*Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	rec := &Record{Ver: recordVer, Data: data}
	if len(version) > 0 {
		rec.Version = version[0]
	}
	return rec, nil
}

// Decode decodes the record's document into v.
func (r *Record) Decode(v any) error {
	if r.Ver != recordVer {
		return fmt.Errorf("unsupported record version: %d", r.Ver)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Ver:     r.Ver,
		Data:    append(json.RawMessage(nil), r.Data...),
		Version: r.Version,
	}
}
