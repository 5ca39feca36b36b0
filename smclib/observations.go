package smclib

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// ObsMatrix is a row-major view of one observation sequence.  Column 0 is
// the span of the row and the remaining 3P columns are the block key.  The
// underlying slice is borrowed, not copied.
type ObsMatrix struct {
	rows, cols int
	data       []int
}

// Rows returns the number of rows.
func (o ObsMatrix) Rows() int { return o.rows }

// Cols returns 1 + 3P.
func (o ObsMatrix) Cols() int { return o.cols }

// Row returns row i as a view.
func (o ObsMatrix) Row(i int) []int {
	return o.data[i*o.cols : (i+1)*o.cols]
}

// Span returns the span of row i.
func (o ObsMatrix) Span(i int) int {
	return o.data[i*o.cols]
}

// Key returns the block key of row i.
func (o ObsMatrix) Key(i int) BlockKey {
	var k BlockKey
	copy(k[:], o.data[i*o.cols+1:(i+1)*o.cols])
	return k
}

// Ingest wraps each sequence of data as a (lengths[i], 1+3*npop) matrix.
func Ingest(npop int, data [][]int, lengths []int) ([]ObsMatrix, error) {

	if npop < 1 || npop > MaxPop {
		return nil, fmt.Errorf("%w: %d populations", ErrUnsupportedConfig, npop)
	}
	if len(data) != len(lengths) {
		return nil, fmt.Errorf("%w: %d sequences but %d lengths", ErrMalformedData, len(data), len(lengths))
	}

	cols := 1 + 3*npop
	obs := make([]ObsMatrix, len(data))
	for i := range data {
		if lengths[i] < 1 || len(data[i]) != lengths[i]*cols {
			return nil, fmt.Errorf("%w: sequence %d has %d values, expected %d rows of %d",
				ErrMalformedData, i, len(data[i]), lengths[i], cols)
		}
		obs[i] = ObsMatrix{rows: lengths[i], cols: cols, data: data[i]}
	}

	return obs, nil
}

// fillTargets returns the distinct (span, key) pairs with span > 1.  Each
// sequence is scanned concurrently into its own set and the sets are merged
// afterward.  A row with span <= 0 aborts the scan.
func fillTargets(ctx context.Context, obs []ObsMatrix) (map[Target]struct{}, error) {

	local, err := parallelMap(ctx, len(obs), func(j int) (map[Target]struct{}, error) {
		ob := obs[j]
		s := make(map[Target]struct{})
		for i := 0; i < ob.Rows(); i++ {
			span := ob.Span(i)
			if span <= 0 {
				return nil, fmt.Errorf("%w: span %d in row %d of sequence %d", ErrMalformedData, span, i, j)
			}
			if span > 1 {
				s[Target{Span: span, Key: ob.Key(i)}] = struct{}{}
			}
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	targets := make(map[Target]struct{})
	for _, s := range local {
		maps.Copy(targets, s)
	}

	return targets, nil
}

// sortedTargets returns the targets in a fixed order.
func sortedTargets(targets map[Target]struct{}) []Target {
	return slices.SortedFunc(maps.Keys(targets), func(x, y Target) int {
		if x.Span != y.Span {
			return x.Span - y.Span
		}
		return compareKeys(x.Key, y.Key)
	})
}

// distinctKeys returns the sorted distinct block keys of all rows,
// checking each against the sample sizes.
func distinctKeys(obs []ObsMatrix, pc popConfig) ([]BlockKey, error) {

	seen := make(map[BlockKey]struct{})
	for _, ob := range obs {
		for i := 0; i < ob.Rows(); i++ {
			seen[ob.Key(i)] = struct{}{}
		}
	}

	keys := slices.SortedFunc(maps.Keys(seen), compareKeys)
	for _, k := range keys {
		if err := pc.validKey(k); err != nil {
			return nil, err
		}
	}

	return keys, nil
}

// ObservedSFS returns the span-weighted frequency spectrum of the fully
// called rows of single-population data, indexed by the distinguished and
// undistinguished derived counts and normalized to sum to 1.  n is the
// number of undistinguished lineages.
func ObservedSFS(obs []ObsMatrix, n int) ([][]float64, error) {

	sfs := make([][]float64, 3)
	for a := range sfs {
		sfs[a] = make([]float64, n+1)
	}

	var tot float64
	for _, ob := range obs {
		if ob.Cols() != 4 {
			return nil, fmt.Errorf("%w: observed spectrum needs one population", ErrUnsupportedConfig)
		}
		for i := 0; i < ob.Rows(); i++ {
			k := ob.Key(i)
			if k.A(0) < 0 || k.A(0) > 2 || k.NB(0) != n || k.B(0) < 0 || k.B(0) > n {
				continue
			}
			sfs[k.A(0)][k.B(0)] += float64(ob.Span(i))
			tot += float64(ob.Span(i))
		}
	}

	if tot > 0 {
		for a := range sfs {
			floats.Scale(1/tot, sfs[a])
		}
	}

	return sfs, nil
}
