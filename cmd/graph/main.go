package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/airbusgeo/insar-timeseries/graph"
	"github.com/airbusgeo/insar-timeseries/service/log"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if _, ok := os.LookupEnv("GRAPHPATH"); !ok {
		os.Setenv("GRAPHPATH", ".")
	}

	graphPath := flag.String("path", "", "graph name or json graph path")
	flag.Parse()

	g, conf, err := graph.LoadGraph(ctx, *graphPath)
	if err != nil {
		log.Fatal("load graph", zap.Error(err))
	}

	s := fmt.Sprintf("Load %s:\n%s\n- config:\n", *graphPath, g.Summary())
	for k, v := range conf {
		s += fmt.Sprintf("  * %-25s: %s\n", k, v)
	}
	fmt.Print(s)
}
