package smclib

import (
	"fmt"
	"slices"
	"strings"
)

// MaxPop is the largest supported number of populations.
const MaxPop = 2

// BlockKey is an observed genotype pattern.  For population p the triple
// (3p, 3p+1, 3p+2) holds the derived count among the distinguished
// lineages (-1 if missing), the derived count among the undistinguished
// lineages, and the number of undistinguished lineages that were called.
// Unused trailing entries are zero.
type BlockKey [3 * MaxPop]int

// MapKey indexes a spectrum tensor: for population p, (2p, 2p+1) hold the
// distinguished and undistinguished derived counts.
type MapKey [2 * MaxPop]int

// Target is a block of span > 1 sites sharing one block key.
type Target struct {
	Span int
	Key  BlockKey
}

// A returns the distinguished derived count of population p.
func (k BlockKey) A(p int) int { return k[3*p] }

// B returns the undistinguished derived count of population p.
func (k BlockKey) B(p int) int { return k[3*p+1] }

// NB returns the number of called undistinguished lineages of population p.
func (k BlockKey) NB(p int) int { return k[3*p+2] }

func (k BlockKey) String() string {
	var parts []string
	for p := 0; p < MaxPop; p++ {
		parts = append(parts, fmt.Sprintf("(%d,%d,%d)", k.A(p), k.B(p), k.NB(p)))
	}
	return strings.Join(parts, "")
}

func compareKeys(x, y BlockKey) int {
	return slices.Compare(x[:], y[:])
}

// popConfig holds the per-population sample sizes: n are the
// undistinguished lineages and na the distinguished ones.
type popConfig struct {
	n  []int
	na []int
}

func (pc popConfig) npop() int {
	return len(pc.n)
}

// tensorDims returns the spectrum tensor shape, (na+1, n+1) per population.
func (pc popConfig) tensorDims() []int {
	var dims []int
	for p := range pc.n {
		dims = append(dims, pc.na[p]+1, pc.n[p]+1)
	}
	return dims
}

// isMonomorphic reports whether every lineage in every population carries
// the derived allele.
func (pc popConfig) isMonomorphic(k BlockKey) bool {
	for p := range pc.n {
		if k.A(p) != pc.na[p] || k.B(p) != k.NB(p) {
			return false
		}
	}
	return true
}

// convertMonomorphic maps a monomorphic key to the all-ancestral key with
// the same called counts.  Other keys are returned unchanged.
func (pc popConfig) convertMonomorphic(k BlockKey) BlockKey {
	if !pc.isMonomorphic(k) {
		return k
	}
	var r BlockKey
	for p := range pc.n {
		r[3*p+2] = k.NB(p)
	}
	return r
}

// folded swaps the ancestral and derived labels.
func (pc popConfig) folded(k BlockKey) BlockKey {
	r := k
	for p := range pc.n {
		r[3*p] = pc.na[p] - k.A(p)
		r[3*p+1] = k.NB(p) - k.B(p)
	}
	return r
}

// mapKey drops the called counts.
func (pc popConfig) mapKey(k BlockKey) MapKey {
	var r MapKey
	for p := range pc.n {
		r[2*p] = k.A(p)
		r[2*p+1] = k.B(p)
	}
	return r
}

// sub returns the tensor subscript of a map key.
func (pc popConfig) sub(mk MapKey) []int {
	return mk[:2*pc.npop()]
}

// validKey checks the ranges of every triple.
func (pc popConfig) validKey(k BlockKey) error {
	for p := range pc.n {
		a, b, nb := k.A(p), k.B(p), k.NB(p)
		if a < -1 || a > pc.na[p] {
			return fmt.Errorf("%w: key %v: distinguished count %d outside [-1, %d]", ErrMalformedData, k, a, pc.na[p])
		}
		if b < 0 || nb < b || nb > pc.n[p] {
			return fmt.Errorf("%w: key %v: need 0 <= %d <= %d <= %d", ErrMalformedData, k, b, nb, pc.n[p])
		}
	}
	for j := 3 * pc.npop(); j < len(k); j++ {
		if k[j] != 0 {
			return fmt.Errorf("%w: key %v has entries beyond %d populations", ErrMalformedData, k, pc.npop())
		}
	}
	return nil
}
