// Package timeseries inverts a filtered interferogram stack into a displacement time
// series (SBAS or NSBAS) and packages the product.
package timeseries

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/airbusgeo/insar-timeseries/filter"
	"github.com/airbusgeo/insar-timeseries/graph"
	"github.com/airbusgeo/insar-timeseries/raster"
	"github.com/airbusgeo/insar-timeseries/service"
	"github.com/airbusgeo/insar-timeseries/service/geometry"
	"github.com/airbusgeo/insar-timeseries/service/log"
	"github.com/airbusgeo/insar-timeseries/stack"
	"github.com/paulsmith/gogeos/geos"
	"golang.org/x/sync/errgroup"
)

var stackIDRe = regexp.MustCompile(`filtered-(?:ifg|gunw-merged)-stack_(.+)-v.+$`)

// Time-series files produced by the inversions
var tsFiles = map[string]string{
	graph.MethodSBAS:  "LS-PARAMS.h5",
	graph.MethodNSBAS: "NSBAS-PARAMS.h5",
}

const browseTif = "browse.tif"

// PrepTDSFile adds the time and geographic axes to the time series
const PrepTDSFile = "prep_tds.py"

//go:embed scripts/prep_tds.py
var prepTDSScript []byte

// Generator creates displacement time series from filtered stacks
type Generator struct {
	Raster   raster.Reader
	Graphs   stack.GraphRunner
	Datasets stack.DatasetChecker // Optional
	WorkDir  string
	NProc    int              // Optional, number of CPUs if 0
	Now      func() time.Time // Optional
}

// ProductID returns the identifier of the time series of the stack
func ProductID(method, stackDir string) (string, error) {
	if _, ok := tsFiles[method]; !ok {
		return "", service.MakeFatal(fmt.Errorf("ProductID: invalid method: %s", method))
	}
	m := stackIDRe.FindStringSubmatch(filepath.Base(filepath.Clean(stackDir)))
	if m == nil {
		return "", service.MakeFatal(fmt.Errorf("ProductID: failed to recognize filtered ifg stack: %s", stackDir))
	}
	return common.FormatBrackets(common.TimeSeriesIDTemplate, map[string]string{
		"METHOD":  method,
		"STACK":   m[1],
		"VERSION": common.DatasetVersion,
	}), nil
}

// TSDataset returns the GDAL name of the rawts dataset of the time-series file
func TSDataset(tsFile string) string {
	return `HDF5:"` + tsFile + `"://rawts`
}

func (g *Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Run inverts the stack of in.Products[0] and packages the time series.
// The stack directory is removed once the product is created.
func (g *Generator) Run(ctx context.Context, in common.TimeSeriesInput) (stack.Result, error) {
	logger := log.Logger(ctx).Sugar()
	if len(in.Products) == 0 {
		return stack.Result{}, service.MakeFatal(fmt.Errorf("Run: no filtered stack"))
	}
	stackDir := in.Products[0]
	id, err := ProductID(in.Method, stackDir)
	if err != nil {
		return stack.Result{}, fmt.Errorf("Run.%w", err)
	}
	logger.Infof("Using method %s-inversion to generate displacement time series.", in.Method)
	logger.Infof("Product ID for version %s: %s", common.DatasetVersion, id)
	ctx = log.With(ctx, "product_id", id)

	if g.Datasets != nil {
		exists, err := g.Datasets.DatasetExists(ctx, id)
		if err != nil {
			return stack.Result{}, service.MakeTemporary(fmt.Errorf("Run.%w", err))
		}
		if exists {
			logger.Infof("%s was previously generated and exists in GRQ database.", id)
			return stack.Result{ID: id, Existing: true}, nil
		}
	}

	// Stack metadata, read before the inversion to fail early
	var stackMet stack.Met
	if err := common.LoadJSON(filepath.Join(stackDir, stack.MetFile(filepath.Base(filepath.Clean(stackDir)))), &stackMet); err != nil {
		return stack.Result{}, service.MakeFatal(fmt.Errorf("Run.%w", err))
	}
	if len(stackMet.Timesteps) == 0 {
		return stack.Result{}, service.MakeFatal(fmt.Errorf("Run: no timesteps in the stack metadata"))
	}

	// Inversion
	if err := unpackStack(ctx, stackDir); err != nil {
		return stack.Result{}, fmt.Errorf("Run.%w", err)
	}
	tsFile := tsFiles[in.Method]
	nproc := g.NProc
	if nproc <= 0 {
		nproc = runtime.NumCPU()
	}
	config := graph.GraphConfig{
		graph.ConfigMethod: in.Method,
		graph.ConfigNProc:  strconv.Itoa(nproc),
		graph.ConfigTSFile: filepath.Join(stack.StackDir, tsFile),
	}
	if err := os.WriteFile(filepath.Join(stackDir, PrepTDSFile), prepTDSScript, 0755); err != nil {
		return stack.Result{}, fmt.Errorf("Run: %w", err)
	}
	if err := g.Graphs.Run(ctx, graph.TimeSeriesInversion, config, stackDir); err != nil {
		return stack.Result{}, fmt.Errorf("Run.%w", err)
	}

	// Product directory
	prodDir := filepath.Join(g.WorkDir, id)
	if err := os.MkdirAll(prodDir, 0755); err != nil {
		return stack.Result{}, fmt.Errorf("Run: %w", err)
	}
	prodTSFile := filepath.Join(prodDir, tsFile)
	if err := os.Rename(filepath.Join(stackDir, stack.StackDir, tsFile), prodTSFile); err != nil {
		return stack.Result{}, fmt.Errorf("Run: %w", err)
	}

	g.browse(ctx, prodDir, tsFile)

	met := stackMet
	met.DatasetType = common.DatasetTypeTimeSeries
	met.ProductType = common.DatasetTypeTimeSeries
	met.Tags = in.Method
	if err := common.WriteJSON(filepath.Join(prodDir, stack.MetFile(id)), met); err != nil {
		return stack.Result{}, fmt.Errorf("Run.%w", err)
	}

	location, err := g.boundingPolygon(ctx, prodTSFile, filepath.Join(stackDir, filter.StackFile))
	if err != nil {
		logger.Warnf("Using less precise bbox due to error: %v", err)
		if location, err = bboxPolygon(met.BBox); err != nil {
			return stack.Result{}, service.MakeFatal(fmt.Errorf("Run.%w", err))
		}
	}
	dataset, err := stack.NewDataset(id, location, met.Timesteps[0], met.Timesteps[len(met.Timesteps)-1], g.now())
	if err != nil {
		return stack.Result{}, fmt.Errorf("Run.%w", err)
	}
	if err := common.WriteJSON(filepath.Join(prodDir, stack.DatasetFile(id)), dataset); err != nil {
		return stack.Result{}, fmt.Errorf("Run.%w", err)
	}

	if _, err := service.CompressFile(prodTSFile); err != nil {
		return stack.Result{}, fmt.Errorf("Run.%w", err)
	}

	if err := os.RemoveAll(stackDir); err != nil {
		logger.Warnf("clean %s: %v", stackDir, err)
	}
	logger.Infof("Product %s created", id)
	return stack.Result{ID: id, ProductDir: prodDir}, nil
}

// unpackStack decompresses the GIAnT stacks of the product into its Stack directory
func unpackStack(ctx context.Context, stackDir string) error {
	dst := filepath.Join(stackDir, stack.StackDir)
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("unpackStack: %w", err)
	}
	g, _ := errgroup.WithContext(ctx)
	for _, f := range []string{stack.RawStackFile, stack.ProcStackFile} {
		gz := filepath.Join(stackDir, f+"."+string(service.ExtensionGZIP))
		g.Go(func() error {
			log.Logger(ctx).Sugar().Debugf("decompress %s", gz)
			file, err := service.DecompressFile(gz)
			if err != nil {
				return service.MakeFatal(err)
			}
			return os.Rename(file, filepath.Join(dst, filepath.Base(file)))
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("unpackStack.%w", err)
	}
	return nil
}

// browse creates the browse images of the time series. Failures are only logged.
func (g *Generator) browse(ctx context.Context, prodDir, tsFile string) {
	logger := log.Logger(ctx).Sugar()
	if err := g.Graphs.Run(ctx, graph.TimeSeriesBrowse, graph.GraphConfig{graph.ConfigTSDataset: TSDataset(tsFile)}, prodDir); err != nil {
		logger.Warnf("browse: %v", err)
	}
	if err := os.Remove(filepath.Join(prodDir, browseTif)); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("browse: %v", err)
	}
}

// boundingPolygon returns the convex hull of the valid pixels of the first date of the time series.
// The coordinates of the pixels are the axes of the filtered stack.
func (g *Generator) boundingPolygon(ctx context.Context, tsFile, stackFile string) (*geos.Geometry, error) {
	s, err := filter.LoadStack(stackFile)
	if err != nil {
		return nil, fmt.Errorf("boundingPolygon.%w", err)
	}
	band, err := g.Raster.ReadBand(ctx, TSDataset(tsFile), 1)
	if err != nil {
		return nil, fmt.Errorf("boundingPolygon.%w", err)
	}
	width, length := band.Size()
	if len(s.Lons) != width || len(s.Lats) != length {
		return nil, fmt.Errorf("boundingPolygon: %dx%d axes for a %dx%d time series", len(s.Lons), len(s.Lats), width, length)
	}
	var points [][2]float64
	for line := 0; line < length; line++ {
		for pixel := 0; pixel < width; pixel++ {
			if !math.IsNaN(band.At(line, pixel)) {
				points = append(points, [2]float64{s.Lons[pixel], s.Lats[line]})
			}
		}
	}
	hull, err := geometry.ConvexHull(points)
	if err != nil {
		return nil, fmt.Errorf("boundingPolygon.%w", err)
	}
	return hull, nil
}

// bboxPolygon returns the polygon of a met.json bbox ([lat, lon])
func bboxPolygon(bbox [][2]float64) (*geos.Geometry, error) {
	ring := make([][2]float64, len(bbox))
	for i, p := range bbox {
		ring[i] = [2]float64{p[1], p[0]}
	}
	g, err := geometry.Polygon(ring)
	if err != nil {
		return nil, fmt.Errorf("bboxPolygon.%w", err)
	}
	return g, nil
}
