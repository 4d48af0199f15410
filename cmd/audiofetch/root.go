package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/KarpelesLab/audiofetch"
	"github.com/KarpelesLab/audiofetch/internal/config"
	"github.com/KarpelesLab/audiofetch/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	cfgPath     string
	logLevel    string
	metricsAddr string
	noCache     bool

	cfg *config.Config
	mgr *audiofetch.Manager
	srv *http.Server
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "Do not read or write the download cache")
}

var rootCmd = &cobra.Command{
	Use:          "audiofetch",
	Short:        "Progressive range based audio downloader",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if metricsAddr != "" {
			cfg.Metrics.Addr = metricsAddr
		}
		if noCache {
			cfg.Cache.Disabled = true
		}
		if err := logger.Init(cfg.Log.Logger()); err != nil {
			return err
		}

		var reg prometheus.Registerer
		if cfg.Metrics.Addr != "" {
			r := prometheus.NewRegistry()
			reg = r
			serveMetrics(cfg.Metrics.Addr, r)
		}

		mgr, err = cfg.Manager(reg)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if mgr != nil {
			if err := mgr.Close(); err != nil {
				logger.Named("cli").Warnf("closing downloads: %s", err)
			}
		}
		if srv != nil {
			_ = srv.Close()
		}
		logger.Sync()
	},
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Named("cli").Errorf("metrics server: %s", err)
		}
	}()
	logger.Named("cli").Infof("serving metrics on %s", addr)
}
