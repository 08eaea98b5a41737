package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrCommunicationFailure is what a host shows the user when a write could
	// not reach the device.
	ErrCommunicationFailure = errors.New("service communication failure")
	ErrReadOnly             = errors.New("property is read-only")
	ErrUnknownProperty      = errors.New("unknown property")
	ErrUnknownAccessory     = errors.New("unknown accessory")
	ErrInvalidValue         = errors.New("invalid property value")
)

// Format is the value type a property carries on the wire.
type Format string

const (
	FormatBool  Format = "bool"
	FormatInt   Format = "int"
	FormatFloat Format = "float"
)

// Gettable reads the current value of a property.
type Gettable[T any] interface {
	Get() (T, error)
}

// Settable applies a value requested by the host.
type Settable[T any] interface {
	Set(ctx context.Context, value T) error
}

type GetterFunc[T any] func() (T, error)

func (f GetterFunc[T]) Get() (T, error) { return f() }

type SetterFunc[T any] func(ctx context.Context, value T) error

func (f SetterFunc[T]) Set(ctx context.Context, value T) error { return f(ctx, value) }

// Bounds constrains numeric properties. A zero Step accepts any value in range.
type Bounds struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step,omitempty"`
}

func (b *Bounds) check(v float64) error {
	if b == nil {
		return nil
	}
	if v < b.Min || v > b.Max {
		return fmt.Errorf("%w: %v outside [%v, %v]", ErrInvalidValue, v, b.Min, b.Max)
	}
	return nil
}

// Property is one named, typed value of an accessory.
type Property interface {
	Name() string
	Format() Format
	Bounds() *Bounds
	Writable() bool
	Value() (any, error)
	SetJSON(ctx context.Context, raw []byte) error
}

type binding[T bool | int | float64] struct {
	name   string
	format Format
	bounds *Bounds
	get    Gettable[T]
	set    Settable[T]
}

// Bool binds a boolean property. set may be nil for read-only properties.
func Bool(name string, get Gettable[bool], set Settable[bool]) Property {
	return &binding[bool]{name: name, format: FormatBool, get: get, set: set}
}

// Int binds an integer property.
func Int(name string, get Gettable[int], set Settable[int], bounds *Bounds) Property {
	return &binding[int]{name: name, format: FormatInt, bounds: bounds, get: get, set: set}
}

// Float binds a decimal property.
func Float(name string, get Gettable[float64], set Settable[float64], bounds *Bounds) Property {
	return &binding[float64]{name: name, format: FormatFloat, bounds: bounds, get: get, set: set}
}

func (b *binding[T]) Name() string    { return b.name }
func (b *binding[T]) Format() Format  { return b.format }
func (b *binding[T]) Bounds() *Bounds { return b.bounds }
func (b *binding[T]) Writable() bool  { return b.set != nil }

func (b *binding[T]) Value() (any, error) {
	v, err := b.get.Get()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (b *binding[T]) SetJSON(ctx context.Context, raw []byte) error {
	if b.set == nil {
		return fmt.Errorf("%s: %w", b.name, ErrReadOnly)
	}
	v, err := decode[T](b.format, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	if b.format != FormatBool {
		if err := b.bounds.check(toFloat(v)); err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
	}
	return b.set.Set(ctx, v)
}

// decode accepts JSON values plus the 0/1 spelling hosts commonly use for
// booleans.
func decode[T bool | int | float64](format Format, raw []byte) (T, error) {
	var zero T
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	var out any
	switch format {
	case FormatBool:
		switch v := generic.(type) {
		case bool:
			out = v
		case float64:
			if v != 0 && v != 1 {
				return zero, fmt.Errorf("%w: %v is not a boolean", ErrInvalidValue, v)
			}
			out = v == 1
		default:
			return zero, fmt.Errorf("%w: expected boolean", ErrInvalidValue)
		}
	case FormatInt:
		v, ok := generic.(float64)
		if !ok || v != math.Trunc(v) {
			return zero, fmt.Errorf("%w: expected integer", ErrInvalidValue)
		}
		out = int(v)
	case FormatFloat:
		v, ok := generic.(float64)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			return zero, fmt.Errorf("%w: expected number", ErrInvalidValue)
		}
		out = v
	}
	typed, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("%w: format mismatch", ErrInvalidValue)
	}
	return typed, nil
}

func toFloat[T bool | int | float64](v T) float64 {
	switch x := any(v).(type) {
	case int:
		return float64(x)
	case float64:
		return x
	}
	return 0
}
