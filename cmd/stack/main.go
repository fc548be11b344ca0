package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/airbusgeo/insar-timeseries/config"
	"github.com/airbusgeo/insar-timeseries/processor"
	"github.com/airbusgeo/insar-timeseries/service"
	"github.com/airbusgeo/insar-timeseries/service/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type appConfig struct {
	Input      string
	WorkingDir string
	StorageURI string
	processor.MessagingConfig
}

func newAppConfig() (*appConfig, error) {
	config := appConfig{}
	flag.StringVar(&config.Input, "input", "", "input context json of the stack (if empty, the stacks are pulled from the job queue)")
	flag.StringVar(&config.WorkingDir, "workdir", ".", "working directory to store intermediate results and products")
	flag.StringVar(&config.StorageURI, "storage-uri", "", "storage uri (currently supported: local, gs) to save the products (optional)")

	// Messaging
	flag.StringVar(&config.PgqDbConnection, "pgq-connection", "", "enable pgq messaging system with a connection to the database")
	flag.StringVar(&config.PsProject, "ps-project", "", "pubsub subscription project (gcp only/not required in local usage)")
	flag.StringVar(&config.JobQueue, "job-queue", "", "name of the queue for stack jobs (pgqueue or pubsub subscription)")
	flag.StringVar(&config.EventQueue, "event-queue", "", "name of the queue for job events (pgqueue or pubsub topic)")
	flag.Parse()

	if config.WorkingDir == "" {
		return nil, fmt.Errorf("missing workdir config flag")
	}
	if config.Input == "" && config.JobQueue == "" {
		return nil, fmt.Errorf("one of input or job-queue flags is required")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	cfg, err := newAppConfig()
	if err != nil {
		return err
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
	defer processor.PushMetrics(ctx, endpoints.PushGateway, "insar_stack", reg)
	p, err := processor.New(ctx, endpoints, cfg.StorageURI, reg)
	if err != nil {
		return err
	}
	m, err := processor.NewMessaging(ctx, cfg.MessagingConfig)
	if err != nil {
		return err
	}
	defer m.Stop()

	job := func(ctx context.Context, payload []byte) (common.Result, error) {
		var in common.StackInput
		if err := json.Unmarshal(payload, &in); err != nil {
			return common.Result{}, service.MakeFatal(fmt.Errorf("invalid payload: %w", err))
		}
		log.Logger(ctx).Sugar().Infof("input: %d products", len(in.Products))
		return p.ProcessStack(ctx, in, cfg.WorkingDir)
	}

	if cfg.Input == "" {
		log.Logger(ctx).Debug("stack processor starts")
		return m.Serve(ctx, common.ResultTypeStack, job)
	}
	payload, err := os.ReadFile(cfg.Input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", cfg.Input, err)
	}
	return m.Run(ctx, payload, common.ResultTypeStack, cfg.WorkingDir, job)
}
