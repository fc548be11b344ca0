// Package stack packages a filtered interferogram stack for GIAnT: it filters the
// interferograms, prepares the GIAnT inputs, runs the stack preprocessing and writes
// the product with its metadata.
package stack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/airbusgeo/insar-timeseries/filter"
	"github.com/airbusgeo/insar-timeseries/graph"
	"github.com/airbusgeo/insar-timeseries/metadata"
	"github.com/airbusgeo/insar-timeseries/raster"
	"github.com/airbusgeo/insar-timeseries/service"
	"github.com/airbusgeo/insar-timeseries/service/geometry"
	"github.com/airbusgeo/insar-timeseries/service/log"
	"golang.org/x/sync/errgroup"
)

// GIAnT outputs in the Stack directory
const (
	StackDir      = "Stack"
	RawStackFile  = "RAW-STACK.h5"
	ProcStackFile = "PROC-STACK.h5"
	igramFigsDir  = "Figs/Igrams"
)

var browseFiles = []string{"browse.gif", "browse_small.png"}

// GraphRunner runs a processing graph in a working directory
type GraphRunner interface {
	Run(ctx context.Context, graphName string, config graph.GraphConfig, workdir string) error
}

// DatasetChecker checks whether a product has already been published
type DatasetChecker interface {
	DatasetExists(ctx context.Context, id string) (bool, error)
}

// Builder creates filtered interferogram stacks
type Builder struct {
	Selector *filter.Selector
	Raster   raster.Reader
	Graphs   GraphRunner
	Datasets DatasetChecker // Optional
	WorkDir  string
	Now      func() time.Time // Optional
}

// Result of a run
type Result struct {
	ID         string
	ProductDir string
	Existing   bool // the product was already published: nothing has been generated
}

// RegionOfInterest returns the ROI of the input or the envelope of the footprints of the products
func RegionOfInterest(ctx context.Context, r raster.Reader, in common.StackInput) (common.ROI, error) {
	if len(in.RegionOfInterest) > 0 {
		log.Logger(ctx).Info("Running Time Series with Region of Interest")
		return common.NewROI(in.RegionOfInterest)
	}
	log.Logger(ctx).Info("Running Time Series on full data")
	footprints := make([]geometry.Bounds, 0, len(in.Products))
	for _, product := range in.Products {
		info, err := r.Info(ctx, filepath.Join(product, metadata.UnwrappedPhaseFile))
		if err != nil {
			return common.ROI{}, fmt.Errorf("RegionOfInterest.%w", err)
		}
		minLon, minLat, maxLon, maxLat := info.Corners()
		footprints = append(footprints, geometry.Bounds{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat})
	}
	env, err := geometry.Envelope(footprints)
	if err != nil {
		return common.ROI{}, service.MakeFatal(fmt.Errorf("RegionOfInterest.%w", err))
	}
	log.Logger(ctx).Sugar().Infof("env: %v %v %v %v", env.MinLon, env.MaxLon, env.MinLat, env.MaxLat)
	return common.ROI{MinLat: env.MinLat, MaxLat: env.MaxLat, MinLon: env.MinLon, MaxLon: env.MaxLon}, nil
}

// Filter selects the interferograms of the input and writes filt_info.json in the working directory
func (b *Builder) Filter(ctx context.Context, in common.StackInput) (*filter.Stack, common.ROI, error) {
	if err := in.Validate(); err != nil {
		return nil, common.ROI{}, service.MakeFatal(fmt.Errorf("Filter: %w", err))
	}
	roi, err := RegionOfInterest(ctx, b.Raster, in)
	if err != nil {
		return nil, common.ROI{}, fmt.Errorf("Filter.%w", err)
	}
	params, err := filter.NewParams(in, roi)
	if err != nil {
		return nil, common.ROI{}, service.MakeFatal(fmt.Errorf("Filter.%w", err))
	}
	if err := b.dumpCatalogs(ctx, in.Products); err != nil {
		return nil, common.ROI{}, fmt.Errorf("Filter.%w", err)
	}
	s, err := b.Selector.Select(ctx, in.Products, params)
	if err != nil {
		return nil, common.ROI{}, fmt.Errorf("Filter.%w", err)
	}
	if err := s.Write(filepath.Join(b.WorkDir, filter.StackFile)); err != nil {
		return nil, common.ROI{}, fmt.Errorf("Filter.%w", err)
	}
	log.Logger(ctx).Sugar().Infof("After filtering: %d out of %d will be used for GIAnT processing", s.Len(), len(in.Products))
	return s, roi, nil
}

// dumpCatalogs converts the ISCE baseline catalogs of the products to json
func (b *Builder) dumpCatalogs(ctx context.Context, products []string) error {
	if err := os.WriteFile(filepath.Join(b.WorkDir, DumpBaselinesFile), dumpBaselinesScript, 0755); err != nil {
		return fmt.Errorf("dumpCatalogs: %w", err)
	}
	var list strings.Builder
	for _, p := range products {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("dumpCatalogs: %w", err)
		}
		list.WriteString(abs + "\n")
	}
	listFile := filepath.Join(b.WorkDir, ProductListFile)
	if err := os.WriteFile(listFile, []byte(list.String()), 0644); err != nil {
		return fmt.Errorf("dumpCatalogs: %w", err)
	}
	if err := b.Graphs.Run(ctx, graph.BaselineCatalogs, graph.GraphConfig{graph.ConfigProducts: listFile}, b.WorkDir); err != nil {
		return fmt.Errorf("dumpCatalogs.%w", err)
	}
	return nil
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// idParams gathers the identifying parameters of the stack
func idParams(in common.StackInput, roi common.ROI, s *filter.Stack) IDParams {
	ifgs := s.Ifgs()
	platforms := service.StringSet{}
	for _, ifg := range ifgs {
		if ifg.Platform != "" {
			platforms.Push(ifg.Platform)
		}
	}
	track := string(in.Track)
	if track == "" {
		track = string(ifgs[0].Track)
	}
	start, end := s.SensingRange()
	return IDParams{
		ROI:       roi,
		Input:     in,
		Track:     track,
		Sensor:    ifgs[0].Sensor,
		Platforms: platforms.Slice(),
		Keys:      s.Keys(),
		Start:     start,
		End:       end,
	}
}

// Build filters the interferograms, runs the GIAnT stack preparation and packages the product
func (b *Builder) Build(ctx context.Context, in common.StackInput) (Result, error) {
	logger := log.Logger(ctx).Sugar()

	s, roi, err := b.Filter(ctx, in)
	if err != nil {
		return Result{}, fmt.Errorf("Build.%w", err)
	}
	stager := filter.LinkStager{Dir: b.WorkDir}
	defer func() {
		for _, k := range s.Keys() {
			if err := stager.Release(k); err != nil {
				logger.Warnf("release %s: %v", k, err)
			}
		}
	}()

	idp := idParams(in, roi, s)
	logger.Infof("Sensor: %s", idp.Sensor)
	id := idp.ProductID()
	logger.Infof("Product ID for version %s: %s", common.DatasetVersion, id)
	ctx = log.With(ctx, "product_id", id)

	if b.Datasets != nil {
		exists, err := b.Datasets.DatasetExists(ctx, id)
		if err != nil {
			return Result{}, service.MakeTemporary(fmt.Errorf("Build.%w", err))
		}
		if exists {
			logger.Infof("%s was previously generated and exists in GRQ database.", id)
			return Result{ID: id, Existing: true}, nil
		}
	}

	// GIAnT stack preparation
	if err := writeGIAnTInputs(b.WorkDir, s); err != nil {
		return Result{}, fmt.Errorf("Build.%w", err)
	}
	if err := b.Graphs.Run(ctx, graph.GIAnTPrepareStack, nil, b.WorkDir); err != nil {
		return Result{}, fmt.Errorf("Build.%w", err)
	}
	dates, err := s.AcquisitionDates()
	if err != nil {
		return Result{}, service.MakeFatal(fmt.Errorf("Build.%w", err))
	}
	timesteps := Timesteps(dates)

	// Product directory
	prodDir := filepath.Join(b.WorkDir, id)
	if err := os.MkdirAll(prodDir, 0755); err != nil {
		return Result{}, fmt.Errorf("Build: %w", err)
	}
	if err := moveStack(ctx, filepath.Join(b.WorkDir, StackDir), prodDir); err != nil {
		return Result{}, fmt.Errorf("Build.%w", err)
	}

	intervals, err := s.Intervals()
	if err != nil {
		return Result{}, service.MakeFatal(fmt.Errorf("Build.%w", err))
	}
	merged := filter.MergeIntervals(intervals)
	for _, i := range merged {
		logger.Infof("interval: %s - %s", i.Start.Format(gapDateFormat), i.End.Format(gapDateFormat))
	}
	connected, err := createGaps(filepath.Join(prodDir, GapsFile), merged)
	if err != nil {
		return Result{}, fmt.Errorf("Build.%w", err)
	}

	b.browse(ctx, prodDir)

	if err := common.WriteJSON(filepath.Join(prodDir, ContextFile(id)), in); err != nil {
		return Result{}, fmt.Errorf("Build.%w", err)
	}
	for _, f := range []string{filter.StackFile, DataXMLFile, RscFile, IfgListFile, PrepDataXMLFile, PrepSBASXMLFile, SBASXMLFile, UserFnFile} {
		if err := os.Rename(filepath.Join(b.WorkDir, f), filepath.Join(prodDir, f)); err != nil {
			return Result{}, fmt.Errorf("Build: %w", err)
		}
	}

	// Metadata
	sensorName := s.Ifgs()[0].SensorName
	met := Met{
		BBox:               roi.BBox(),
		DatasetType:        common.DatasetTypeIfgStack,
		ProductType:        common.DatasetTypeIfgStack,
		SensingTimeInitial: timesteps[0],
		SensingTimeFinal:   timesteps[len(timesteps)-1],
		Sensor:             sensorName,
		Platform:           idp.Platforms,
		SpacecraftName:     idp.Platforms,
		TrackNumber:        json.Number(idp.Track),
		IfgCount:           s.Len(),
		TimestepCount:      len(timesteps),
		Timesteps:          timesteps,
		FullCoverage:       connected,
	}
	for _, ifg := range s.Ifgs() {
		met.Ifgs = append(met.Ifgs, ifg.Product)
	}
	if connected {
		met.Tags = common.TagTemporallyConnected
	}
	if err := common.WriteJSON(filepath.Join(prodDir, MetFile(id)), met); err != nil {
		return Result{}, fmt.Errorf("Build.%w", err)
	}

	location, err := geometry.Rectangle(geometry.Bounds{MinLon: roi.MinLon, MinLat: roi.MinLat, MaxLon: roi.MaxLon, MaxLat: roi.MaxLat})
	if err != nil {
		return Result{}, fmt.Errorf("Build.%w", err)
	}
	dataset, err := NewDataset(id, location, timesteps[0], timesteps[len(timesteps)-1], b.now())
	if err != nil {
		return Result{}, fmt.Errorf("Build.%w", err)
	}
	if err := common.WriteJSON(filepath.Join(prodDir, DatasetFile(id)), dataset); err != nil {
		return Result{}, fmt.Errorf("Build.%w", err)
	}

	logger.Infof("Product %s created", id)
	return Result{ID: id, ProductDir: prodDir}, nil
}

// moveStack moves the files of the GIAnT Stack directory to the product directory and compresses them
func moveStack(ctx context.Context, stackDir, prodDir string) error {
	files, err := filepath.Glob(filepath.Join(stackDir, "*"))
	if err != nil {
		return fmt.Errorf("moveStack: %w", err)
	}
	if len(files) == 0 {
		return service.MakeFatal(fmt.Errorf("moveStack: %s is empty", stackDir))
	}
	sort.Strings(files)

	g, _ := errgroup.WithContext(ctx)
	for _, f := range files {
		dst := filepath.Join(prodDir, filepath.Base(f))
		if err := os.Rename(f, dst); err != nil {
			g.Wait()
			return fmt.Errorf("moveStack: %w", err)
		}
		g.Go(func() error {
			log.Logger(ctx).Sugar().Debugf("compress %s", dst)
			_, err := service.CompressFile(dst)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("moveStack.%w", err)
	}
	return nil
}

func createGaps(file string, merged []filter.Interval) (bool, error) {
	f, err := os.Create(file)
	if err != nil {
		return false, fmt.Errorf("createGaps: %w", err)
	}
	connected, err := writeGaps(f, merged)
	if err != nil {
		f.Close()
		return false, fmt.Errorf("createGaps: %w", err)
	}
	return connected, f.Close()
}

// browse creates the browse images of the stack. Failures are only logged.
func (b *Builder) browse(ctx context.Context, prodDir string) {
	logger := log.Logger(ctx).Sugar()
	if err := b.Graphs.Run(ctx, graph.StackBrowse, nil, b.WorkDir); err != nil {
		logger.Warnf("browse: %v", err)
	}
	files := make([]string, 0, len(browseFiles))
	for _, f := range browseFiles {
		files = append(files, filepath.Join(b.WorkDir, f))
	}
	pngs, _ := filepath.Glob(filepath.Join(b.WorkDir, igramFigsDir, "*.png"))
	files = append(files, pngs...)
	for _, f := range files {
		if err := os.Rename(f, filepath.Join(prodDir, filepath.Base(f))); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("browse: %v", err)
		}
	}
}
