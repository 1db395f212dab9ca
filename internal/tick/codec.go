package tick

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingField is wrapped by DecodeError when a required tag is absent.
var ErrMissingField = errors.New("missing required field")

// DecodeError reports a payload that is not a well-formed tick.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode tick: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError reports a tick that cannot be serialized.
type EncodeError struct {
	Symbol string
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode tick %q: %v", e.Symbol, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// wireTick is the JSON layout shared by the upstream feed and the
// transports. Timestamp is only present on relayed payloads.
type wireTick struct {
	Symbol    *string `json:"s"`
	BidPrice  string  `json:"b,omitempty"`
	BidQty    string  `json:"B,omitempty"`
	AskPrice  string  `json:"a,omitempty"`
	AskQty    string  `json:"A,omitempty"`
	Timestamp *int64  `json:"timestamp,omitempty"`
}

// Encode serializes t for a transport.
func Encode(t Tick) ([]byte, error) {
	if t.Symbol == "" {
		return nil, &EncodeError{Err: fmt.Errorf("s: %w", ErrMissingField)}
	}

	symbol := t.Symbol
	ts := t.Timestamp
	data, err := json.Marshal(wireTick{
		Symbol:    &symbol,
		BidPrice:  t.BidPrice,
		BidQty:    t.BidQty,
		AskPrice:  t.AskPrice,
		AskQty:    t.AskQty,
		Timestamp: &ts,
	})
	if err != nil {
		return nil, &EncodeError{Symbol: t.Symbol, Err: err}
	}
	return data, nil
}

// Decode parses a relayed payload. Unknown fields are ignored; s and
// timestamp are required.
func Decode(data []byte) (Tick, error) {
	w, err := unmarshal(data)
	if err != nil {
		return Tick{}, err
	}
	if w.Timestamp == nil {
		return Tick{}, &DecodeError{Err: fmt.Errorf("timestamp: %w", ErrMissingField)}
	}

	t := w.tick()
	t.Timestamp = *w.Timestamp
	return t, nil
}

// DecodeFeed parses an upstream bookTicker message, which carries no
// capture timestamp.
func DecodeFeed(data []byte) (Tick, error) {
	w, err := unmarshal(data)
	if err != nil {
		return Tick{}, err
	}
	return w.tick(), nil
}

func unmarshal(data []byte) (wireTick, error) {
	var w wireTick
	if err := json.Unmarshal(data, &w); err != nil {
		return wireTick{}, &DecodeError{Err: err}
	}
	if w.Symbol == nil || *w.Symbol == "" {
		return wireTick{}, &DecodeError{Err: fmt.Errorf("s: %w", ErrMissingField)}
	}
	return w, nil
}

func (w wireTick) tick() Tick {
	return Tick{
		Symbol:   *w.Symbol,
		BidPrice: w.BidPrice,
		BidQty:   w.BidQty,
		AskPrice: w.AskPrice,
		AskQty:   w.AskQty,
	}
}
