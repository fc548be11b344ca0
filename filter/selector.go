package filter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/airbusgeo/insar-timeseries/metadata"
	"github.com/airbusgeo/insar-timeseries/raster"
	"github.com/airbusgeo/insar-timeseries/service"
	"github.com/airbusgeo/insar-timeseries/service/log"
)

// Bands of the rasters
const (
	PhaseBand     = 2
	CoherenceBand = 1
)

// ErrEmptyStack is returned (as a fatal error) when no interferogram passed the filters
var ErrEmptyStack = errors.New("empty stack: no interferogram passed the filters")

// MetadataReader reads the metadata of a product
type MetadataReader interface {
	Met(ctx context.Context, productDir string) (metadata.Met, error)
	Catalog(ctx context.Context, productDir string) (metadata.Catalog, error)
	Ancillary(ctx context.Context, productDir string) (metadata.Ancillary, error)
}

// Params of the selection
type Params struct {
	ROI         common.ROI
	RefPoint    common.ReferencePoint
	CoverageTh  float64
	CoherenceTh float64
	Subswath    common.Swath

	// Pass-through attributes, copied in each IfgInfo
	RangePixelSize   float64
	AzimuthPixelSize float64
	Inc              float64
	Filt             float64
	NetRamp          bool
	GPSRamp          bool
}

// NewParams creates the Params of the selection from the input of a run
func NewParams(in common.StackInput, roi common.ROI) (Params, error) {
	ref, err := common.NewReferencePoint(in.RefPoint, in.RefBoxNumPixels)
	if err != nil {
		return Params{}, fmt.Errorf("NewParams.%w", err)
	}
	return Params{
		ROI:              roi,
		RefPoint:         ref,
		CoverageTh:       in.CoverageTh,
		CoherenceTh:      in.CoherenceTh,
		Subswath:         in.Subswath,
		RangePixelSize:   in.RangePixelSize,
		AzimuthPixelSize: in.AzimuthPixelSize,
		Inc:              in.Inc,
		Filt:             in.Filt,
		NetRamp:          in.NetRamp,
		GPSRamp:          in.GPSRamp,
	}, nil
}

// Selector builds the filtered stack from a list of interferograms
type Selector struct {
	Raster   raster.Reader
	Metadata MetadataReader
	Stager   Stager   // Optional
	Metrics  *Metrics // Optional
}

// Select processes the products sequentially and returns the stack of the retained ones.
// It returns a fatal error wrapping ErrEmptyStack if no product is retained.
func (s *Selector) Select(ctx context.Context, products []string, params Params) (*Stack, error) {
	stack := NewStack()
	dedup := NewDeduplicator()
	for i, product := range products {
		log.Logger(ctx).Sugar().Infof("Processing: %s (%d of %d) (current stack count: %d)", product, i+1, len(products), stack.Len())
		pctx := log.With(ctx, "product", filepath.Base(product))
		outcome, err := s.selectProduct(pctx, product, params, stack, dedup)
		if err != nil {
			return nil, fmt.Errorf("Select[%s].%w", product, err)
		}
		s.Metrics.count(outcome)
	}
	s.Metrics.setStackSize(stack.Len())
	if stack.Len() == 0 {
		return nil, service.MakeFatal(fmt.Errorf("Select: %w", ErrEmptyStack))
	}
	log.Logger(ctx).Sugar().Infof("After filtering: %d out of %d interferograms", stack.Len(), len(products))
	return stack, nil
}

func (s *Selector) selectProduct(ctx context.Context, product string, params Params, stack *Stack, dedup *Deduplicator) (Outcome, error) {
	logger := log.Logger(ctx).Sugar()

	met, err := s.Metadata.Met(ctx, product)
	if err != nil {
		return "", fmt.Errorf("selectProduct.%w", err)
	}
	if !met.Swath.Matches(params.Subswath) {
		logger.Infof("Filtered out: unmatched subswath %s", met.Swath)
		return OutcomeSwathMismatch, nil
	}
	startDt, stopDt, err := met.Dates()
	if err != nil {
		return "", fmt.Errorf("selectProduct.%w", err)
	}

	catalog, err := s.Metadata.Catalog(ctx, product)
	if err != nil {
		return "", fmt.Errorf("selectProduct.%w", err)
	}
	bperp, err := catalog.Bperp()
	if err != nil {
		return "", service.MakeFatal(fmt.Errorf("selectProduct.Bperp: %w", err))
	}
	mission := catalog.Mission()
	if mission == "" {
		logger.Warn("Filtered out: failed to extract sensor")
		return OutcomeUnknownSensor, nil
	}
	family, err := common.SensorFamilyFromMission(mission)
	if err != nil {
		return "", service.MakeFatal(fmt.Errorf("selectProduct: %w", err))
	}
	noData, err := family.NoData()
	if err != nil {
		return "", service.MakeFatal(fmt.Errorf("selectProduct: %w", err))
	}

	// Project the phase and the coherence to the ROI
	info := IfgInfo{
		Product:          product,
		StartDt:          startDt,
		StopDt:           stopDt,
		Bperp:            bperp,
		Sensor:           family.String(),
		SensorName:       family.SensorName(),
		Platform:         common.Platform(mission),
		Track:            met.TrackNumber,
		CohTh:            params.CoherenceTh,
		RangePixelSize:   params.RangePixelSize,
		AzimuthPixelSize: params.AzimuthPixelSize,
		Inc:              params.Inc,
		NetRamp:          params.NetRamp,
		GPSRamp:          params.GPSRamp,
		Filt:             params.Filt,
		UnwVrtIn:         filepath.Join(product, metadata.UnwrappedPhaseFile),
		UnwVrtOut:        filepath.Join(product, metadata.AlignedPhaseFile),
		CorVrtIn:         filepath.Join(product, metadata.CoherenceFile),
		CorVrtOut:        filepath.Join(product, metadata.AlignedCohFile),
	}
	if err := s.Raster.Align(ctx, info.UnwVrtIn, info.UnwVrtOut, params.ROI, noData, PhaseBand); err != nil {
		return "", fmt.Errorf("selectProduct.%w", err)
	}
	if err := s.Raster.Align(ctx, info.CorVrtIn, info.CorVrtOut, params.ROI, noData, CoherenceBand); err != nil {
		return "", fmt.Errorf("selectProduct.%w", err)
	}
	coh, err := s.Raster.ReadBand(ctx, info.CorVrtOut, 1)
	if err != nil {
		return "", fmt.Errorf("selectProduct.%w", err)
	}
	phs, err := s.Raster.ReadBand(ctx, info.UnwVrtOut, 1)
	if err != nil {
		return "", fmt.Errorf("selectProduct.%w", err)
	}

	// Reference window
	info.Width, info.Length = coh.Size()
	if w, l := phs.Size(); w != info.Width || l != info.Length {
		return "", service.MakeFatal(fmt.Errorf("selectProduct: aligned phase (%dx%d) and coherence (%dx%d) differ", w, l, info.Width, info.Length))
	}
	pixel, line := coh.GeoTransform.PixelLine(params.RefPoint.Lat, params.RefPoint.Lon)
	window := NewReferenceWindow(pixel, line, params.RefPoint.HalfWidth, params.RefPoint.HalfHeight)
	if window.Empty() || !window.Within(info.Width, info.Length) {
		return "", service.MakeFatal(fmt.Errorf("selectProduct: invalid reference window x=%v y=%v for a %dx%d raster", window.X, window.Y, info.Width, info.Length))
	}
	info.XLim, info.YLim = [2]int{0, info.Width}, [2]int{0, info.Length}
	info.RXLim, info.RYLim = window.X, window.Y

	// Coverage filter
	eval := Evaluate(phs, coh, window, params.CoherenceTh, params.CoverageTh, noData)
	logger.Infof("phs_ref mean: %v, coverage: %v", eval.RefMeanPhase, eval.Coverage)
	if !eval.Accept {
		switch eval.Reason {
		case OutcomeNoReferencePhase:
			logger.Info("Filtered out: no valid data in ref bbox")
		case OutcomeLowCoverage:
			logger.Infof("Filtered out: ROI latitude coverage of valid data was below threshold (%v vs. %v)", eval.Coverage, params.CoverageTh)
		}
		return eval.Reason, nil
	}

	anc, err := s.Metadata.Ancillary(ctx, product)
	if err != nil {
		return "", service.MakeFatal(fmt.Errorf("selectProduct.%w", err))
	}
	info.Wavelength = anc.Wavelength
	info.HeadingDeg = anc.HeadingDeg
	info.SensingMid = anc.SensingMid
	info.CenterLineUTC = anc.CenterLineUTC()

	// Deduplication
	key := common.NewDateKey(startDt, stopDt)
	previous, _ := dedup.Coverage(key)
	decision := dedup.Admit(key, eval.Coverage)
	outcome := OutcomeKept
	switch decision {
	case Reject:
		logger.Infof("Filtered out: %s already exists with larger coverage (%v vs. %v)", key, previous, eval.Coverage)
		return OutcomeDuplicate, nil
	case Replace:
		logger.Infof("Larger coverage found for %s (%v vs. %v)", key, eval.Coverage, previous)
		outcome = OutcomeReplaced
	}
	if s.Stager != nil {
		if err := s.Stager.Stage(key, product); err != nil {
			return "", fmt.Errorf("selectProduct.%w", err)
		}
	}

	stack.set(key, info, eval.Coverage)
	stack.GeoTransform = coh.GeoTransform
	stack.Lats, stack.Lons = coh.Lats(), coh.Lons()
	logger.Infof("Added %s to final input stack", key)
	return outcome, nil
}
