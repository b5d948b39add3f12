package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/MuhamedUsman/letstream/internal/artifact"
	"github.com/MuhamedUsman/letstream/internal/bgtask"
	"github.com/MuhamedUsman/letstream/internal/config"
	"github.com/MuhamedUsman/letstream/internal/mdns"
	"github.com/MuhamedUsman/letstream/internal/network"
	"github.com/MuhamedUsman/letstream/internal/server"
	"github.com/MuhamedUsman/letstream/internal/util"

	_ "gocloud.dev/blob/fileblob"
)

func main() {
	// config warnings log before the configured level is known
	util.ConfigureSlog(os.Stderr, slog.LevelInfo)
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "err", err)
		os.Exit(1)
	}
	util.ConfigureSlog(os.Stderr, cfg.Server.SlogLevel())

	artifacts, err := artifact.Open(context.Background(), cfg.Artifact.BucketURL)
	if err != nil {
		slog.Error("opening artifact bucket", "url", cfg.Artifact.BucketURL, "err", err)
		os.Exit(1)
	}
	defer func() {
		if err = artifacts.Close(); err != nil {
			slog.Error("closing artifact bucket", "err", err)
		}
	}()

	s := server.New(cfg, artifacts)
	s.StartSweeps()

	if cfg.Discovery.Announce {
		announce(cfg)
	}

	if err = s.Start(); err != nil {
		slog.Error(err.Error())
	}
}

// announce publishes the instance over multicast DNS for the lifetime of
// the process. A non-announceable addr only logs, the server still serves.
func announce(cfg config.Config) {
	port, err := network.ListenPort(cfg.Server.Addr)
	if err != nil {
		slog.Warn("configured addr cannot be announced over mdns", "addr", cfg.Server.Addr, "err", err)
		return
	}
	if ip, err := network.OutboundIP(); err == nil {
		slog.Info("announcing on the local network",
			"instance", cfg.Discovery.Instance,
			"url", fmt.Sprintf("http://%s:%d", ip, port),
		)
	}
	bgtask.Get().Run(func(shutdownCtx context.Context) {
		if err := mdns.Publish(shutdownCtx, cfg.Discovery.Instance, port); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("publishing multicast dns entry", "err", err)
		}
	})
}
