package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coralbits/rtpmidid-go/internal/config"
	"github.com/coralbits/rtpmidid-go/internal/discovery"
	"github.com/coralbits/rtpmidid-go/internal/dispatch"
	"github.com/coralbits/rtpmidid-go/internal/httpadmin"
	"github.com/coralbits/rtpmidid-go/internal/metrics"
	"github.com/coralbits/rtpmidid-go/internal/midibridge"
	"github.com/coralbits/rtpmidid-go/internal/rtpmidi"
)

func main() {
	var configPath string
	if len(os.Args) > 1 && os.Args[1] != "" && os.Args[1][0] != '-' {
		if _, err := os.Stat(os.Args[1]); err == nil {
			configPath = os.Args[1]
		}
	}

	positional := os.Args[1:]
	if configPath != "" {
		positional = os.Args[2:]
	}

	cfg, err := config.Load(configPath, positional)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting rtpmidid",
		"name", cfg.Name,
		"control_port", cfg.ControlPort,
		"auto_connect", len(cfg.AutoConnect),
	)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	dispatcher, err := dispatch.New(logger)
	if err != nil {
		slog.Error("failed to create dispatcher", "error", err)
		os.Exit(1)
	}
	defer dispatcher.Close()

	seq, err := midibridge.NewNullSequencer()
	if err != nil {
		slog.Error("failed to open null sequencer", "error", err)
		os.Exit(1)
	}
	defer seq.Close()

	counters := metrics.NewCounters()

	endpoint, err := rtpmidi.NewEndpoint(cfg.Name, cfg.ControlPort, dispatcher, nil, counters, logger)
	if err != nil {
		slog.Error("failed to create endpoint", "error", err)
		os.Exit(1)
	}
	if cfg.SSRCOverride != 0 {
		endpoint.SetSSRC(cfg.SSRCOverride)
	}

	bridge := midibridge.New(seq, endpointFanout{endpoint}, logger)
	endpoint.SetReceiver(bridge)

	endpoint.Start()

	dispatcher.Add(seq.Fd(), bridge.OnReadable, nil)

	disc := discovery.New(cfg.Name, cfg.ControlPort, logger)
	if err := disc.Advertise(); err != nil {
		slog.Warn("mdns advertisement failed, continuing without it", "error", err)
	}
	defer disc.Close()

	go func() {
		err := disc.Browse(appCtx, func(adv discovery.Advertisement) {
			dispatcher.Enqueue(func() {
				slog.Info("discovered peer, connecting", "name", adv.Name, "host", adv.Host, "port", adv.Port)
				if _, err := endpoint.Connect(adv.Host, adv.Port); err != nil {
					slog.Error("failed to connect to discovered peer", "error", err)
				}
			})
		})
		if err != nil && appCtx.Err() == nil {
			slog.Error("mdns browse error", "error", err)
		}
	}()

	for _, peer := range cfg.AutoConnect {
		peer := peer
		dispatcher.Enqueue(func() {
			if _, err := endpoint.Connect(peer.Host, peer.Port); err != nil {
				slog.Error("failed to auto-connect", "host", peer.Host, "port", peer.Port, "error", err)
			}
		})
	}

	collector := metrics.NewCollector(registryAdapter{endpoint.Registry()}, counters, time.Now())
	prometheus.MustRegister(collector)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpadmin.NewServer(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		slog.Info("http admin server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go func() {
		if err := dispatcher.Run(appCtx); err != nil && appCtx.Err() == nil {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("fatal error", "error", err)
	}

	appCancel()

	if err := endpoint.Close(); err != nil {
		slog.Error("error closing endpoint", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http admin server shutdown error", "error", err)
	}

	slog.Info("rtpmidid stopped")
}

// endpointFanout adapts *rtpmidi.Endpoint to midibridge.Fanout.
type endpointFanout struct {
	endpoint *rtpmidi.Endpoint
}

func (f endpointFanout) SendMIDI(msg []byte) {
	f.endpoint.SendMIDI(msg)
}

// registryAdapter adapts *rtpmidi.Registry to metrics.PeerProvider.
type registryAdapter struct {
	registry *rtpmidi.Registry
}

func (a registryAdapter) Peers() []metrics.PeerInfo {
	peers := a.registry.Peers()
	out := make([]metrics.PeerInfo, len(peers))
	for i, p := range peers {
		out[i] = metrics.PeerInfo{
			ID:        p.ID(),
			Name:      p.Name,
			State:     p.State.String(),
			LatencyMS: p.LatencyMS,
		}
	}
	return out
}
