package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nexd/internal/common/fsutil"
	"nexd/internal/config"
	"nexd/internal/engine"
	"nexd/internal/httpapi"
	"nexd/internal/modelcache"
	"nexd/internal/provider"
	"nexd/internal/registry"
	"nexd/internal/router"
	"nexd/internal/session"
	"nexd/pkg/types"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		cfgPath     string
		addr        string
		modelsDir   string
		logLevel    string
		workers     int
		cacheModels int
		cacheMB     int64
		corsOrigins string
	)
	root := &cobra.Command{
		Use:           "nexd",
		Short:         "Hybrid local/cloud inference daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			// Flags override the file.
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("models-dir") {
				cfg.ModelsDir = modelsDir
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}
			if cmd.Flags().Changed("cache-max-models") {
				cfg.CacheMaxModels = cacheModels
			}
			if cmd.Flags().Changed("cache-budget-mb") {
				cfg.CacheBudgetMB = cacheMB
			}
			if cmd.Flags().Changed("cors-origins") {
				cfg.CORS.Enabled = true
				cfg.CORS.Origins = splitCSV(corsOrigins)
			}
			return run(cmd.Context(), applyDefaults(cfg))
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "", "Configuration file (.yaml, .json, or .toml)")
	root.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	root.Flags().StringVar(&modelsDir, "models-dir", "~/models/llm", "Directory to scan for *.gguf model files")
	root.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	root.Flags().IntVar(&workers, "workers", 0, "Scheduler worker count (0 = NumCPU)")
	root.Flags().IntVar(&cacheModels, "cache-max-models", 0, "Max resident models (0 = unlimited)")
	root.Flags().Int64Var(&cacheMB, "cache-budget-mb", 0, "Model memory budget in MB (0 = unlimited)")
	root.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins")
	return root
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		if v := os.Getenv("NEXD_CONFIG"); v != "" {
			path = v
		}
	}
	if path == "" {
		return config.Config{}, nil
	}
	expanded, err := fsutil.ExpandHome(path)
	if err != nil {
		return config.Config{}, err
	}
	if !fsutil.PathExists(expanded) {
		return config.Config{}, fmt.Errorf("config file not found: %s", path)
	}
	return config.Load(expanded)
}

func applyDefaults(cfg config.Config) config.Config {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if v := os.Getenv("NEXD_ADDR"); v != "" {
		cfg.Addr = v
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = "~/models/llm"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SessionTimeoutSec <= 0 {
		cfg.SessionTimeoutSec = 1800
	}
	return cfg
}

func run(ctx context.Context, cfg config.Config) error {
	// Cancelled once shutdown finishes so in-flight inference joined to the
	// server base context unblocks.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := newLogger(cfg.LogLevel)

	catalog, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	log.Info().Int("models", len(catalog)).Str("dir", cfg.ModelsDir).Msg("scanned model directory")

	reg := provider.NewRegistry(log)
	local := provider.NewLocal(catalog, provider.LocalConfig{
		CtxSize:     cfg.Local.CtxSize,
		Threads:     cfg.Local.Threads,
		MaxInFlight: cfg.Local.MaxInFlight,
	}, log)
	if err := reg.Register(ctx, local); err != nil {
		return fmt.Errorf("register local provider: %w", err)
	}
	if cfg.Cloud.Enabled {
		keyEnv := cfg.Cloud.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "NEXD_CLOUD_API_KEY"
		}
		cloud := provider.NewCloud(provider.CloudConfig{
			APIKey:      os.Getenv(keyEnv),
			BaseURL:     cfg.Cloud.BaseURL,
			Models:      cloudModels(cfg.Cloud.Models),
			MaxInFlight: cfg.Cloud.MaxInFlight,
		}, log)
		// A dead cloud backend must not keep the daemon from serving
		// local models.
		if err := reg.Register(ctx, cloud); err != nil {
			log.Warn().Err(err).Msg("cloud provider unavailable at startup")
		}
	}

	eng := engine.New(engine.Config{
		Workers:     cfg.Workers,
		CPUSlots:    cfg.CPUSlots,
		GPUSlots:    cfg.GPUSlots,
		ModelSlots:  cfg.ModelSlots,
		AllocatorMB: cfg.AllocatorMB,
		Cache: modelcache.Config{
			MaxEntries:  cfg.CacheMaxModels,
			MaxMemoryMB: cfg.CacheBudgetMB,
		},
		Sessions: session.Config{
			MaxSessions: cfg.MaxSessions,
			IdleTimeout: time.Duration(cfg.SessionTimeoutSec) * time.Second,
		},
		Routing: router.Config{
			LocalThreshold:   cfg.Routing.LocalThreshold,
			CloudThreshold:   cfg.Routing.CloudThreshold,
			LatencyWeight:    cfg.Routing.LatencyWeight,
			SuccessWeight:    cfg.Routing.SuccessWeight,
			ErrorWeight:      cfg.Routing.ErrorWeight,
			PerfBlend:        cfg.Routing.PerfBlend,
			SuitabilityBlend: cfg.Routing.SuitabilityBlend,
		},
	}, reg, log)

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	if cfg.MaxBodyBytes > 0 {
		httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	}
	if cfg.InferTimeoutSec > 0 {
		httpapi.SetInferTimeoutSeconds(cfg.InferTimeoutSec)
	}
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(eng)}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("nexd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-sweep.C:
			if n := eng.SweepSessions(time.Now()); n > 0 {
				log.Debug().Int("evicted", n).Msg("swept idle sessions")
			}
		case err := <-errCh:
			eng.Close()
			return fmt.Errorf("server error: %w", err)
		case sig := <-stop:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			eng.Drain()
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := srv.Shutdown(shutCtx)
			cancel()
			eng.Close()
			if err != nil {
				return fmt.Errorf("graceful shutdown: %w", err)
			}
			return nil
		}
	}
}

func cloudModels(in []config.CloudModel) []types.Model {
	out := make([]types.Model, 0, len(in))
	for _, m := range in {
		name := m.Name
		if name == "" {
			name = m.ID
		}
		out = append(out, types.Model{
			ID:            m.ID,
			Name:          name,
			Provider:      "cloud",
			ContextLength: m.ContextLength,
			Capabilities:  m.Capabilities,
		})
	}
	return out
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// splitCSV splits a comma-separated flag value, trimming whitespace and
// dropping empty items.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
