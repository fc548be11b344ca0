package filter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/google/uuid"
)

// Decision of the deduplicator
type Decision int

const (
	Reject  Decision = iota // A product with a better or equal coverage is already in the stack
	Keep                    // First product with this key
	Replace                 // The product has a better coverage than the one in the stack
)

func (d Decision) String() string {
	switch d {
	case Keep:
		return "keep"
	case Replace:
		return "replace"
	}
	return "reject"
}

// Deduplicator retains at most one product per DateKey: the one with the best coverage.
// In case of a tie, the first one is retained.
type Deduplicator struct {
	coverage map[common.DateKey]float64
}

// NewDeduplicator creates an empty Deduplicator
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{coverage: map[common.DateKey]float64{}}
}

// Admit decides whether a product is added to the stack and records its coverage if so.
func (d *Deduplicator) Admit(key common.DateKey, coverage float64) Decision {
	existing, ok := d.coverage[key]
	switch {
	case !ok:
		d.coverage[key] = coverage
		return Keep
	case coverage > existing:
		d.coverage[key] = coverage
		return Replace
	}
	return Reject
}

// Coverage returns the coverage of the product retained for the key
func (d *Deduplicator) Coverage(key common.DateKey) (float64, bool) {
	c, ok := d.coverage[key]
	return c, ok
}

// Stager exposes the retained products to the downstream tools
type Stager interface {
	// Stage exposes the product under the key, replacing the product previously staged with the same key
	Stage(key common.DateKey, productDir string) error
	// Release removes the staged product of the key. It does nothing if no product is staged.
	Release(key common.DateKey) error
}

// LinkStager stages the products as symbolic links named by their DateKey in Dir
type LinkStager struct {
	Dir string
}

// Path returns the path of the link of the key
func (s LinkStager) Path(key common.DateKey) string {
	return filepath.Join(s.Dir, string(key))
}

// Stage implements Stager.
// The link is created under a temporary name then renamed, so that the key always links to one product.
func (s LinkStager) Stage(key common.DateKey, productDir string) error {
	target, err := filepath.Abs(productDir)
	if err != nil {
		return fmt.Errorf("Stage[%s]: %w", key, err)
	}
	tmp := filepath.Join(s.Dir, fmt.Sprintf("%s.%s.tmp", key, uuid.NewString()))
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("Stage[%s].Symlink: %w", key, err)
	}
	if err := os.Rename(tmp, s.Path(key)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("Stage[%s].Rename: %w", key, err)
	}
	return nil
}

// Release implements Stager
func (s LinkStager) Release(key common.DateKey) error {
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("Release[%s]: %w", key, err)
	}
	return nil
}
