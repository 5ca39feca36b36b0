// Package spectrum computes conditioned site frequency spectra: for each
// hidden-state interval, a tensor of expected mutation counts indexed by
// per-population (distinguished, undistinguished) derived allele counts.
package spectrum

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/kshedden/coalhmm/ad"
)

var (
	// ErrInvalidSolver is returned for unsupported solver configurations.
	ErrInvalidSolver = errors.New("invalid spectrum solver configuration")

	// ErrNaN is returned when a computed tensor contains NaN.
	ErrNaN = errors.New("spectrum contains NaN")
)

// Tensor is a dense row-major array of Dual values.  For P populations the
// axes are (a_1, b_1, ..., a_P, b_P): distinguished and undistinguished
// derived allele counts.
type Tensor struct {
	Dims []int
	Data []ad.Dual
}

// NewTensor returns a tensor of the given shape filled with zero.
func NewTensor(dims []int, zero ad.Dual) Tensor {

	t := Tensor{
		Dims: append([]int(nil), dims...),
		Data: make([]ad.Dual, combin.Card(dims)),
	}
	for i := range t.Data {
		t.Data[i] = zero
	}

	return t
}

// Index returns the flat position of the subscript sub.
func (t Tensor) Index(sub ...int) int {
	return combin.IdxFor(sub, t.Dims)
}

// At returns the element at sub.
func (t Tensor) At(sub ...int) ad.Dual {
	return t.Data[t.Index(sub...)]
}

// Set assigns the element at sub.
func (t Tensor) Set(v ad.Dual, sub ...int) {
	t.Data[t.Index(sub...)] = v
}

// Size returns the number of elements.
func (t Tensor) Size() int {
	return len(t.Data)
}

// CheckNaN returns ErrNaN if any value is NaN.
func (t Tensor) CheckNaN() error {
	if ad.AnyNaN(t.Data) {
		return ErrNaN
	}
	return nil
}

// corner returns the subscript in which every axis is at its maximum.
func (t Tensor) corner() []int {
	sub := make([]int, len(t.Dims))
	for i, d := range t.Dims {
		sub[i] = d - 1
	}
	return sub
}

// IncorporateTheta converts expected branch lengths into per-site emission
// probabilities for mutation rate theta: every entry is scaled by theta,
// the all-derived corner is cleared, and the all-ancestral entry becomes the
// probability of no segregating mutation.
func IncorporateTheta(tensors []Tensor, theta float64) ([]Tensor, error) {

	out := make([]Tensor, len(tensors))
	for m, t := range tensors {
		if err := t.CheckNaN(); err != nil {
			return nil, fmt.Errorf("interval %d: %w", m, err)
		}
		r := Tensor{
			Dims: t.Dims,
			Data: make([]ad.Dual, len(t.Data)),
		}
		for i, v := range t.Data {
			r.Data[i] = v.Scale(theta)
		}
		r.Data[r.Index(r.corner()...)] = r.Data[0].Scale(0)
		r.Data[0] = r.Data[0].Scale(0)
		r.Data[0] = ad.Sum(r.Data).Neg().AddConst(1)
		out[m] = r
	}

	return out, nil
}
