// Package metadata reads the metadata of the interferogram products: the met.json record,
// the baseline catalog and the ancillary attributes of the ISCE interferogram.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/airbusgeo/insar-timeseries/service"
)

// Relative paths of the product files
const (
	UnwrappedPhaseFile = "merged/filt_topophase.unw.geo.vrt"
	CoherenceFile      = "merged/phsig.cor.geo.vrt"
	AlignedPhaseFile   = "merged/aligned.unw.vrt"
	AlignedCohFile     = "merged/aligned.cor.vrt"
	PickleCatalogFile  = "PICKLE/computeBaselines"   // written by ISCE
	CatalogFile        = PickleCatalogFile + ".json" // json dump of the pickle
	InterferogramFile  = "fine_interferogram.xml"
)

// Met is the metadata record of a product (<product>/*.met.json)
type Met struct {
	Swath        common.Swath `json:"swath"`
	SensingStart string       `json:"sensingStart"`
	SensingStop  string       `json:"sensingStop"`
	TrackNumber  json.Number  `json:"trackNumber,omitempty"`
}

// Dates returns the start and stop dates (YYYYMMDD)
// Returns a fatal error if the sensing times do not start with a date.
func (m Met) Dates() (string, string, error) {
	start, err := common.ParseSensingDate(m.SensingStart)
	if err != nil {
		return "", "", service.MakeFatal(fmt.Errorf("sensingStart: %w", err))
	}
	stop, err := common.ParseSensingDate(m.SensingStop)
	if err != nil {
		return "", "", service.MakeFatal(fmt.Errorf("sensingStop: %w", err))
	}
	return start, stop, nil
}

// Extractor reads the metadata from the product directory
type Extractor struct{}

// Met reads the first *.met.json of the product directory
func (Extractor) Met(ctx context.Context, productDir string) (Met, error) {
	files, err := filepath.Glob(filepath.Join(productDir, "*.met.json"))
	if err != nil {
		return Met{}, fmt.Errorf("Met.Glob: %w", err)
	}
	if len(files) == 0 {
		return Met{}, fmt.Errorf("Met: no met.json found in %s", productDir)
	}
	var met Met
	if err := common.LoadJSON(files[0], &met); err != nil {
		return Met{}, fmt.Errorf("Met.%w", err)
	}
	return met, nil
}

// Catalog reads the json dump of the baseline catalog of the product.
// A missing catalog is a fatal error.
func (Extractor) Catalog(ctx context.Context, productDir string) (Catalog, error) {
	f, err := os.Open(filepath.Join(productDir, CatalogFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Catalog{}, service.MakeFatal(fmt.Errorf("Catalog: %w", err))
		}
		return Catalog{}, fmt.Errorf("Catalog: %w", err)
	}
	defer f.Close()
	catalog, err := DecodeCatalog(f)
	if err != nil {
		return Catalog{}, fmt.Errorf("Catalog[%s].%w", productDir, err)
	}
	return catalog, nil
}

// Ancillary reads the attributes of the first burst of the interferogram
func (Extractor) Ancillary(ctx context.Context, productDir string) (Ancillary, error) {
	f, err := os.Open(filepath.Join(productDir, InterferogramFile))
	if err != nil {
		return Ancillary{}, fmt.Errorf("Ancillary: %w", err)
	}
	defer f.Close()
	anc, err := DecodeAncillary(f)
	if err != nil {
		return Ancillary{}, fmt.Errorf("Ancillary[%s].%w", productDir, err)
	}
	return anc, nil
}
