// Package osc encodes Open Sound Control messages and delivers command
// batches to a lighting console over TCP or UDP.
package osc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	goosc "github.com/hypebeast/go-osc/osc"
)

// Command is one OSC message: an address plus ordered arguments. Arguments
// are integers or strings; the console dialect used here carries no floats.
type Command struct {
	Address string `json:"address"`
	Args    []any  `json:"args"`
}

// String renders the command for logs, e.g. "/eos/channel/1/at 50".
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Address
	}
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Address)
	for _, a := range c.Args {
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, " ")
}

var (
	ErrInvalidAddress = errors.New("osc: address must start with '/'")
	ErrUnsupportedArg = errors.New("osc: unsupported argument type")
)

// UnmarshalJSON decodes args keeping integers integral; JSON numbers with a
// fractional part are rejected.
func (c *Command) UnmarshalJSON(b []byte) error {
	var raw struct {
		Address string            `json:"address"`
		Args    []json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.Address = raw.Address
	c.Args = make([]any, 0, len(raw.Args))
	for i, r := range raw.Args {
		dec := json.NewDecoder(bytes.NewReader(r))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("osc arg %d: %w", i, err)
		}
		switch t := v.(type) {
		case string:
			c.Args = append(c.Args, t)
		case json.Number:
			n, err := t.Int64()
			if err != nil {
				return fmt.Errorf("osc arg %d: %w: non-integer number %s", i, ErrUnsupportedArg, t)
			}
			c.Args = append(c.Args, n)
		default:
			return fmt.Errorf("osc arg %d: %w: %T", i, ErrUnsupportedArg, v)
		}
	}
	return nil
}

// MarshalBinary encodes the command as an OSC 1.0 message packet. Integers
// are narrowed to int32 before encoding; anything else is rejected.
func (c Command) MarshalBinary() ([]byte, error) {
	if !strings.HasPrefix(c.Address, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, c.Address)
	}

	msg := goosc.NewMessage(c.Address)
	for i, a := range c.Args {
		switch v := a.(type) {
		case string:
			msg.Append(v)
		case int, int32, int64:
			n, err := toInt32(v)
			if err != nil {
				return nil, fmt.Errorf("osc arg %d: %w", i, err)
			}
			msg.Append(n)
		default:
			return nil, fmt.Errorf("osc arg %d: %w: %T", i, ErrUnsupportedArg, a)
		}
	}
	b, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Address, err)
	}
	return b, nil
}

func toInt32(v any) (int32, error) {
	var n int64
	switch t := v.(type) {
	case int:
		n = int64(t)
	case int32:
		return t, nil
	case int64:
		n = t
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d overflows int32", ErrUnsupportedArg, n)
	}
	return int32(n), nil
}
