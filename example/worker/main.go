// FILE: lixenwraith/funnel/example/worker/main.go
// A source process: no files of its own, every persisted record is
// forwarded to the aggregator over the router.
package main

import (
	"time"

	"github.com/lixenwraith/funnel"
	"github.com/lixenwraith/funnel/router"
)

func main() {
	logger, err := funnel.NewBuilder().
		Origin(funnel.KindWorker, "").
		EnableFile(false).
		ConsoleLevelString("debug").
		Build()
	if err != nil {
		panic(err)
	}
	defer logger.Shutdown(time.Second)

	if err := logger.Start(); err != nil {
		panic(err)
	}

	client, err := router.NewClient("tcp://127.0.0.1:9440",
		router.WithReadyTimeout(5*time.Second),
		router.WithClientReporter(func(e error) {
			logger.WithScope("router").Warn("delivery failure", e)
		}),
	)
	if err != nil {
		panic(err)
	}
	defer client.Close()

	logger.SetForwarder(client)

	job := logger.WithScope("job")
	for i := 0; i < 10; i++ {
		job.Info("processing batch", "batch", i)
		if i%4 == 3 {
			job.Warn("slow batch", "batch", i, "elapsed_ms", 120+i)
		}
		time.Sleep(200 * time.Millisecond)
	}
	job.Info("worker done", "dropped", client.Dropped())
}
