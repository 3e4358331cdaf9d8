// FILE: lixenwraith/funnel/example/httpserver/main.go
// Routes fasthttp's internal logging through the engine via the
// compat adapter, alongside the application's own records.
package main

import (
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/lixenwraith/funnel"
	"github.com/lixenwraith/funnel/compat"
)

func main() {
	logger, err := funnel.NewBuilder().
		Directory("/tmp/funnel-http").
		Origin(funnel.KindFrontend, "").
		ConsoleLevelString("debug").
		Build()
	if err != nil {
		panic(err)
	}
	defer logger.Shutdown(time.Second)

	if err := logger.Start(); err != nil {
		panic(err)
	}

	access := logger.WithScope("http")
	srv := &fasthttp.Server{
		Logger: compat.NewFastHTTPAdapter(logger),
		Handler: func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			fmt.Fprintf(ctx, "ok\n")
			access.Info("request",
				"method", string(ctx.Method()),
				"path", string(ctx.Path()),
				"elapsed_us", time.Since(start).Microseconds())
		},
	}

	logger.Info("serving on :8080")
	if err := srv.ListenAndServe(":8080"); err != nil {
		logger.Error("server stopped", err)
	}
}
