// Package tensor defines the named, shaped values exchanged between the
// engine, its callers and downstream models.
package tensor

import (
	"fmt"
	"math"
	"slices"
)

// DType is the element type tag carried with a tensor. Values are always held
// as float32; the tag is passed through unchanged.
type DType string

// Supported element type tags.
const (
	TypeFP16  DType = "TYPE_FP16"
	TypeFP32  DType = "TYPE_FP32"
	TypeFP64  DType = "TYPE_FP64"
	TypeINT32 DType = "TYPE_INT32"
	TypeINT64 DType = "TYPE_INT64"
)

var knownDTypes = map[DType]bool{
	TypeFP16:  true,
	TypeFP32:  true,
	TypeFP64:  true,
	TypeINT32: true,
	TypeINT64: true,
}

// Valid reports whether d is a known element type.
func (d DType) Valid() bool {
	return knownDTypes[d]
}

// Tensor is a named, typed, shaped array value.
type Tensor struct {
	Name   string    `json:"name,omitempty"`
	DType  DType     `json:"data_type,omitempty"`
	Dims   []int64   `json:"dims"`
	Values []float32 `json:"values"`
}

// New returns a one-dimensional FP32 tensor holding values.
func New(name string, values ...float32) Tensor {
	return Tensor{
		Name:   name,
		DType:  TypeFP32,
		Dims:   []int64{int64(len(values))},
		Values: slices.Clone(values),
	}
}

// Clone returns a deep copy of t.
func (t Tensor) Clone() Tensor {
	return Tensor{
		Name:   t.Name,
		DType:  t.DType,
		Dims:   slices.Clone(t.Dims),
		Values: slices.Clone(t.Values),
	}
}

// Renamed returns a deep copy of t carrying a different name.
func (t Tensor) Renamed(name string) Tensor {
	c := t.Clone()
	c.Name = name
	return c
}

// NumElements returns the element count implied by the dimensions. It
// reports false when a dimension is negative or the count overflows int64.
func (t Tensor) NumElements() (int64, bool) {
	for _, d := range t.Dims {
		if d < 0 {
			return 0, false
		}
		if d == 0 {
			return 0, !slices.ContainsFunc(t.Dims, func(d int64) bool { return d < 0 })
		}
	}
	n := int64(1)
	for _, d := range t.Dims {
		if n > math.MaxInt64/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

// Validate checks that the dimensions are non-negative and agree with the
// number of values.
func (t Tensor) Validate() error {
	if len(t.Dims) == 0 {
		return fmt.Errorf("tensor %q has no dimensions", t.Name)
	}
	for i, d := range t.Dims {
		if d < 0 {
			return fmt.Errorf("tensor %q has negative dimension %d at index %d", t.Name, d, i)
		}
	}
	n, ok := t.NumElements()
	if !ok {
		return fmt.Errorf("tensor %q dims %v overflow the element count", t.Name, t.Dims)
	}
	if n != int64(len(t.Values)) {
		return fmt.Errorf("tensor %q has %d values, dims %v require %d", t.Name, len(t.Values), t.Dims, n)
	}
	if t.DType != "" && !t.DType.Valid() {
		return fmt.Errorf("tensor %q has unknown data type %q", t.Name, t.DType)
	}
	return nil
}

// String formats the values the way they appear in mismatch messages.
func (t Tensor) String() string {
	return fmt.Sprint(t.Values)
}

// Equal reports whether actual matches expected element for element. Tensors
// with different shapes are never equal. Names and type tags are ignored.
func Equal(expected, actual Tensor) bool {
	if !slices.Equal(expected.Dims, actual.Dims) {
		return false
	}
	if len(expected.Values) != len(actual.Values) {
		return false
	}
	for i := range expected.Values {
		if expected.Values[i] != actual.Values[i] {
			return false
		}
	}
	return true
}
