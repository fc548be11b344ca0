// Package processor runs the jobs of the commands: filtering, stack packaging and
// time-series generation, with the import and the publication of the products.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/airbusgeo/insar-timeseries/filter"
	"github.com/airbusgeo/insar-timeseries/raster"
	"github.com/airbusgeo/insar-timeseries/service"
	"github.com/airbusgeo/insar-timeseries/service/log"
	"github.com/airbusgeo/insar-timeseries/stack"
	"github.com/airbusgeo/insar-timeseries/timeseries"
	"github.com/google/uuid"
)

// Processor gathers the services used by the jobs
type Processor struct {
	Storage  service.Storage // Optional: products are saved and missing stacks imported
	Raster   raster.Reader
	Metadata filter.MetadataReader
	Graphs   stack.GraphRunner
	Datasets stack.DatasetChecker // Optional
	Metrics  *filter.Metrics      // Optional
}

func (p *Processor) selector(workdir string) *filter.Selector {
	return &filter.Selector{
		Raster:   p.Raster,
		Metadata: p.Metadata,
		Stager:   filter.LinkStager{Dir: workdir},
		Metrics:  p.Metrics,
	}
}

// jobDir returns the working directory of a job.
// When the products are saved in a storage, each job runs in its own directory, removed by the returned func.
func (p *Processor) jobDir(workdir string) (string, func(), error) {
	if p.Storage == nil {
		return workdir, func() {}, os.MkdirAll(workdir, 0755)
	}
	dir := filepath.Join(workdir, uuid.New().String())
	if err := os.MkdirAll(dir, 0766); err != nil {
		return "", nil, service.MakeTemporary(fmt.Errorf("make directory %s: %w", dir, err))
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// FilterStack selects the interferograms of the input and writes filt_info.json in workdir.
// The retained interferograms are linked in workdir as <start>_<stop>.
func (p *Processor) FilterStack(ctx context.Context, in common.StackInput, workdir string) (string, error) {
	if err := os.MkdirAll(workdir, 0755); err != nil {
		return "", service.MakeTemporary(fmt.Errorf("FilterStack: %w", err))
	}
	b := stack.Builder{Selector: p.selector(workdir), Raster: p.Raster, Graphs: p.Graphs, WorkDir: workdir}
	if _, _, err := b.Filter(ctx, in); err != nil {
		return "", fmt.Errorf("FilterStack.%w", err)
	}
	return filepath.Join(workdir, filter.StackFile), nil
}

// ProcessStack builds the filtered stack of the input and saves it
func (p *Processor) ProcessStack(ctx context.Context, in common.StackInput, workdir string) (common.Result, error) {
	workdir, clean, err := p.jobDir(workdir)
	if err != nil {
		return common.Result{}, fmt.Errorf("ProcessStack.%w", err)
	}
	defer clean()

	b := stack.Builder{
		Selector: p.selector(workdir),
		Raster:   p.Raster,
		Graphs:   p.Graphs,
		Datasets: p.Datasets,
		WorkDir:  workdir,
	}
	res, err := b.Build(ctx, in)
	if err != nil {
		return common.Result{}, fmt.Errorf("ProcessStack.%w", err)
	}
	return p.result(ctx, common.ResultTypeStack, res)
}

// ProcessTimeSeries inverts the stack of the input and saves the time series.
// If the stack directory does not exist, the stack is imported from the storage.
func (p *Processor) ProcessTimeSeries(ctx context.Context, in common.TimeSeriesInput, workdir string) (common.Result, error) {
	workdir, clean, err := p.jobDir(workdir)
	if err != nil {
		return common.Result{}, fmt.Errorf("ProcessTimeSeries.%w", err)
	}
	defer clean()

	if len(in.Products) > 0 {
		if in.Products[0], err = p.importStack(ctx, in.Products[0], workdir); err != nil {
			return common.Result{}, fmt.Errorf("ProcessTimeSeries.%w", err)
		}
	}
	g := timeseries.Generator{
		Raster:   p.Raster,
		Graphs:   p.Graphs,
		Datasets: p.Datasets,
		WorkDir:  workdir,
	}
	res, err := g.Run(ctx, in)
	if err != nil {
		return common.Result{}, fmt.Errorf("ProcessTimeSeries.%w", err)
	}
	return p.result(ctx, common.ResultTypeTimeSeries, res)
}

// importStack returns the local directory of the stack, importing it from the storage if needed
func (p *Processor) importStack(ctx context.Context, stackDir, workdir string) (string, error) {
	if _, err := os.Stat(stackDir); err == nil || p.Storage == nil {
		return stackDir, nil
	}
	id := filepath.Base(filepath.Clean(stackDir))
	log.Logger(ctx).Sugar().Infof("import stack %s", id)
	if err := p.Storage.ImportProduct(ctx, id, workdir); err != nil {
		if errors.As(err, &service.ErrFileNotFound{}) {
			return "", service.MakeFatal(fmt.Errorf("importStack.%w", err))
		}
		return "", service.MakeTemporary(fmt.Errorf("importStack.%w", err))
	}
	return filepath.Join(workdir, id), nil
}

// result saves the product, if any, and returns the Result to publish
func (p *Processor) result(ctx context.Context, resultType string, res stack.Result) (common.Result, error) {
	r := common.Result{Type: resultType, ID: res.ID, Status: common.StatusDONE}
	if res.Existing {
		r.Status = common.StatusEXISTING
		return r, nil
	}
	if p.Storage != nil {
		uri, err := p.Storage.SaveProduct(ctx, res.ProductDir)
		if err != nil {
			return common.Result{}, service.MakeTemporary(fmt.Errorf("result.%w", err))
		}
		log.Logger(ctx).Sugar().Infof("product saved in %s", uri)
		r.Message = uri
	}
	return r, nil
}
