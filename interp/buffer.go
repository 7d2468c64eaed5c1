// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package interp executes a concrete schedule or plan over in-memory
// buffers, replaying the attached kernels once per live logical point in
// the order the schedule dictates. It is the engine's verification
// harness: the reference against which transformed schedules are checked
// for observable equivalence. It is not a runtime.
package interp

import (
	"github.com/gx-org/affine/expr"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Buffer is the in-memory value of a kernel array, stored according to
// the array's physical layout.
type Buffer struct {
	arr     *expr.Array
	data    []float64
	strides []int
}

func strides(a *expr.Array) ([]int, error) {
	axes := a.Shape().AxisLengths
	st := make([]int, len(axes))
	switch a.Layout() {
	case expr.FirstMajor:
		stride := 1
		for i := len(axes) - 1; i >= 0; i-- {
			st[i] = stride
			stride *= axes[i]
		}
	case expr.LastMajor:
		stride := 1
		for i := 0; i < len(axes); i++ {
			st[i] = stride
			stride *= axes[i]
		}
	default:
		return nil, errors.Errorf("array %s has no concrete layout", a.Name())
	}
	return st, nil
}

// NewBuffer returns a zero-filled buffer for an array.
func NewBuffer(a *expr.Array) (*Buffer, error) {
	if a.Unbounded() {
		return nil, errors.Errorf("array %s is still unbounded", a.Name())
	}
	st, err := strides(a)
	if err != nil {
		return nil, err
	}
	return &Buffer{arr: a, data: make([]float64, a.Shape().Size()), strides: st}, nil
}

// Number is a buffer element source type.
type Number interface {
	constraints.Integer | constraints.Float
}

// BufferOf returns a buffer initialized from values given in the array's
// physical layout order.
func BufferOf[T Number](a *expr.Array, values []T) (*Buffer, error) {
	b, err := NewBuffer(a)
	if err != nil {
		return nil, err
	}
	if len(values) != len(b.data) {
		return nil, errors.Errorf("array %s has %d elements but got %d values", a.Name(), len(b.data), len(values))
	}
	for i, v := range values {
		b.data[i] = float64(v)
	}
	return b, nil
}

// Array returns the array the buffer stores.
func (b *Buffer) Array() *expr.Array { return b.arr }

// Data returns the raw elements in physical layout order.
func (b *Buffer) Data() []float64 {
	return append([]float64{}, b.data...)
}

func (b *Buffer) offset(coords []int) (int, error) {
	axes := b.arr.Shape().AxisLengths
	if len(coords) != len(axes) {
		return 0, errors.Errorf("array %s has rank %d but got %d coordinates", b.arr.Name(), len(axes), len(coords))
	}
	off := 0
	for i, c := range coords {
		if c < 0 || c >= axes[i] {
			return 0, errors.Errorf("coordinate %d out of range for axis %d of array %s (extent %d)", c, i, b.arr.Name(), axes[i])
		}
		off += c * b.strides[i]
	}
	return off, nil
}

// At returns the element at the given coordinates.
func (b *Buffer) At(coords ...int) (float64, error) {
	off, err := b.offset(coords)
	if err != nil {
		return 0, err
	}
	return b.data[off], nil
}

// Set assigns the element at the given coordinates.
func (b *Buffer) Set(v float64, coords ...int) error {
	off, err := b.offset(coords)
	if err != nil {
		return err
	}
	b.data[off] = v
	return nil
}
