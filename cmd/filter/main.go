package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/airbusgeo/insar-timeseries/config"
	"github.com/airbusgeo/insar-timeseries/processor"
	"github.com/airbusgeo/insar-timeseries/service"
	"github.com/airbusgeo/insar-timeseries/service/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	input := flag.String("input", "", "input context json of the stack")
	workdir := flag.String("workdir", ".", "working directory where filt_info.json and the links to the interferograms are created")
	flag.Parse()
	if *input == "" {
		return fmt.Errorf("missing input config flag")
	}

	endpoints, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := log.New(endpoints.Logging.Level, endpoints.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()
	ctx = log.WithLogger(ctx, logger)

	reg := prometheus.NewRegistry()
	defer processor.PushMetrics(ctx, endpoints.PushGateway, "insar_filter", reg)
	p, err := processor.New(ctx, endpoints, "", reg)
	if err != nil {
		return err
	}

	var in common.StackInput
	if err := common.LoadJSON(*input, &in); err != nil {
		return err
	}
	file, err := p.FilterStack(ctx, in, *workdir)
	if err != nil {
		if e := service.DumpError(*workdir, err); e != nil {
			log.Logger(ctx).Warn("dump error", zap.Error(e))
		}
		return err
	}
	log.Logger(ctx).Sugar().Infof("filtered stack written in %s", file)
	return nil
}
