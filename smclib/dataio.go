package smclib

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
)

// Dataset is a collection of observation sequences together with the
// sample sizes they were called from.  It is stored as gzip-compressed gob.
type Dataset struct {

	// Number of populations
	NPop int

	// Undistinguished and distinguished lineages per population
	N  []int
	NA []int

	// Rows of (span, block key) per sequence, row-major
	Data    [][]int
	Lengths []int

	// True hidden states, one per row, when the data were simulated
	States [][]int
}

// Obs returns row-major views of the sequences.
func (ds *Dataset) Obs() ([]ObsMatrix, error) {
	return Ingest(ds.NPop, ds.Data, ds.Lengths)
}

// WriteDataset writes ds to the named file.
func WriteDataset(fname string, ds *Dataset) error {

	fid, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer fid.Close()

	gid := gzip.NewWriter(fid)
	enc := gob.NewEncoder(gid)
	if err := enc.Encode(ds); err != nil {
		return fmt.Errorf("encoding %s: %w", fname, err)
	}
	if err := gid.Close(); err != nil {
		return err
	}

	return fid.Close()
}

// ReadDataset reads a dataset written by WriteDataset.
func ReadDataset(fname string) (*Dataset, error) {

	fid, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer fid.Close()

	gid, err := gzip.NewReader(fid)
	if err != nil {
		return nil, err
	}
	defer gid.Close()

	dec := gob.NewDecoder(gid)

	var ds Dataset
	if err := dec.Decode(&ds); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", fname, err)
	}

	return &ds, nil
}
