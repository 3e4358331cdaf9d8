// FILE: lixenwraith/funnel/example/aggregator/main.go
// The authoritative process: owns the files, runs the router server,
// persists everything the workers send alongside its own records.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lixenwraith/funnel"
	"github.com/lixenwraith/funnel/compat"
	"github.com/lixenwraith/funnel/router"
)

func main() {
	logger, err := funnel.NewBuilder().
		Directory("/tmp/funnel-demo").
		Origin(funnel.KindCoordinator, "").
		FileLevelString("silly").
		ConsoleLevelString("info").
		MaxSizeBytes(5 * 1024 * 1024).
		ArchiveHook(funnel.GzipArchiver).
		PathResolver(funnel.OriginPathResolver("/tmp/funnel-demo")).
		Build()
	if err != nil {
		panic(err)
	}
	defer logger.Shutdown(2 * time.Second)

	if err := logger.Start(); err != nil {
		panic(err)
	}

	srv, err := router.NewServer("tcp://127.0.0.1:9440", logger,
		router.WithServerReporter(func(e error) {
			logger.WithScope("router").Warn("transport failure", e)
		}),
		router.WithEngineLogger(compat.NewGnetAdapter(logger)),
	)
	if err != nil {
		panic(err)
	}

	go func() {
		if err := srv.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "router server exited: %v\n", err)
		}
	}()

	logger.Info("aggregator up, listening on tcp://127.0.0.1:9440")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	logger.Info("aggregator shutting down", "received", srv.Received())
	_ = logger.Flush(time.Second)
}
