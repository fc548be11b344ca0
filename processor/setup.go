package processor

import (
	"context"
	"fmt"

	"github.com/airbusgeo/insar-timeseries/config"
	"github.com/airbusgeo/insar-timeseries/filter"
	"github.com/airbusgeo/insar-timeseries/graph"
	"github.com/airbusgeo/insar-timeseries/interface/grq"
	"github.com/airbusgeo/insar-timeseries/metadata"
	"github.com/airbusgeo/insar-timeseries/raster"
	"github.com/airbusgeo/insar-timeseries/service"
	"github.com/airbusgeo/insar-timeseries/service/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// New creates a Processor from the endpoints. storageURI is optional.
// The metrics of the selection are registered against reg.
func New(ctx context.Context, endpoints *config.Endpoints, storageURI string, reg prometheus.Registerer) (*Processor, error) {
	metrics, err := filter.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("processor.New.%w", err)
	}
	p := Processor{
		Raster:   raster.GDAL{BinDir: endpoints.Tools.GDALBin},
		Metadata: metadata.Extractor{},
		Graphs:   graph.Runner{Override: endpoints.GraphConfig(nil)},
		Metrics:  metrics,
	}
	if endpoints.GRQ.URL != "" {
		log.Logger(ctx).Sugar().Infof("GRQ url: %s, index: %s", endpoints.GRQ.URL, endpoints.GRQ.Alias)
		p.Datasets = grq.New(endpoints.GRQ.URL, endpoints.GRQ.Alias)
	}
	if storageURI != "" {
		storage, err := service.NewStorageStrategy(ctx, storageURI)
		if err != nil {
			return nil, fmt.Errorf("storage[%s].%w", storageURI, err)
		}
		p.Storage = storage
	}
	return &p, nil
}

// PushMetrics pushes the metrics gathered by g to the pushgateway, if any. Errors are only logged.
func PushMetrics(ctx context.Context, url, job string, g prometheus.Gatherer) {
	if url == "" {
		return
	}
	if err := push.New(url, job).Gatherer(g).Push(); err != nil {
		log.Logger(ctx).Sugar().Warnf("push metrics to %s: %v", url, err)
	}
}
