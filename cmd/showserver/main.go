// Command showserver runs the show server (C5, C6, C7): it accepts show
// uploads, declares show start times, answers per-device instruction
// queries, and advertises/streams firmware releases.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/lumenshow/internal/config"
	"github.com/simeonmiteff/lumenshow/pkg/diagnostics"
	"github.com/simeonmiteff/lumenshow/pkg/httpapi"
	"github.com/simeonmiteff/lumenshow/pkg/otacoordinator"
	"github.com/simeonmiteff/lumenshow/pkg/showstore"
)

func main() {
	log := logrus.StandardLogger()

	addr := os.Getenv("LUMENSHOW_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	cfg := config.LoadServerConfig()

	store := showstore.New()
	diag := diagnostics.New(log, prometheus.DefaultRegisterer)
	ota := otacoordinator.New(otacoordinator.NewGitHubStore(cfg.GitHubRepoOwner, cfg.GitHubRepoName), cfg.ServerURL)

	srv := &httpapi.Server{Store: store, OTA: ota, Diag: diag, Log: log}
	mux := srv.Routes()
	mux.Handle("/metrics", promhttp.Handler())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go diag.RunProgressLogger(ctx, store)

	httpServer := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.WithField("addr", addr).Info("show server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("show server exited")
	}
}
