// Command mockhook is a development webhook that accepts chat uploads and
// answers with canned replies, so the client can be exercised without a
// real backend.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", ":8081", "Listen address")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	status := flag.Int("status", 0, "Force this HTTP status on every request")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	h := &hook{
		delay:  *delay,
		status: *status,
		logger: logger,
	}

	logger.Info("Mock webhook listening",
		slog.String("address", *addr),
		slog.String("upload", "POST /webhook"),
	)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           h.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Mock webhook stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
