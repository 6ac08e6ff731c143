package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/drone/envsubst"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/grafana/dskit/flagext"
	"github.com/prometheus/client_golang/prometheus"
	ver "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	"gopkg.in/yaml.v3"

	"github.com/nxthdr/saimiris-gateway/pkg/api"
	"github.com/nxthdr/saimiris-gateway/pkg/auth"
	"github.com/nxthdr/saimiris-gateway/pkg/bus"
	"github.com/nxthdr/saimiris-gateway/pkg/coordinator"
	"github.com/nxthdr/saimiris-gateway/pkg/metrics"
	"github.com/nxthdr/saimiris-gateway/pkg/prefix"
	"github.com/nxthdr/saimiris-gateway/pkg/quota"
	"github.com/nxthdr/saimiris-gateway/pkg/registry"
	"github.com/nxthdr/saimiris-gateway/pkg/store"
	"github.com/nxthdr/saimiris-gateway/pkg/tracker"
)

const appName = "saimiris-gateway"

// Version is set via build flag -ldflags -X main.Version
var (
	Version  string
	Branch   string
	Revision string
)

func init() {
	version.Version = Version
	version.Branch = Branch
	version.Revision = Revision

	prometheus.MustRegister(ver.NewCollector(appName))
}

func main() {
	printVersion := flag.Bool("version", false, "Print version and exit")

	for _, arg := range os.Args[1:] {
		if arg == "-config.example" || arg == "--config.example" {
			fmt.Print(ExampleConfig())
			os.Exit(0)
		}
	}

	cfg, configVerify, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}
	if *printVersion {
		fmt.Println(version.Print(appName))
		os.Exit(0)
	}

	logger := newLogger(cfg.LogLevel)

	configValid := true
	if warnings := cfg.CheckConfig(); len(warnings) != 0 {
		level.Warn(logger).Log("msg", "-- CONFIGURATION WARNINGS --")
		for _, w := range warnings {
			output := []any{"msg", w.Message}
			if w.Explain != "" {
				output = append(output, "explain", w.Explain)
			}
			level.Warn(logger).Log(output...)
		}
		configValid = false
	}

	if configVerify {
		if err := cfg.Validate(); err != nil {
			level.Error(logger).Log("msg", "invalid configuration", "err", err)
			os.Exit(1)
		}
		if !configValid {
			os.Exit(1)
		}
		level.Info(logger).Log("msg", "configuration is valid")
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		level.Error(logger).Log("msg", "gateway exited with error", "err", err)
		os.Exit(1)
	}
}

// run wires every gateway component per §4/§6 and serves until the
// process receives SIGINT/SIGTERM.
func run(cfg *Config, logger log.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeRepo, err := buildRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building repository: %w", err)
	}
	defer closeRepo()

	publisher, closePublisher, err := buildPublisher(cfg)
	if err != nil {
		return fmt.Errorf("building bus publisher: %w", err)
	}
	defer closePublisher()

	reg := registry.New()
	alloc := prefix.NewAllocator(repo)
	accountant := quota.NewAccountant(repo)
	tr := tracker.New(repo)
	coord := coordinator.New(reg, alloc, accountant, tr, publisher, cfg.BusTopic, logger)

	jwks := auth.NewJWKSCache(cfg.JWKSURI)
	verifier := auth.NewVerifier(jwks, cfg.TokenIssuer)

	handler := api.NewHandler(api.Config{
		Registry:    reg,
		Coordinator: coord,
		Tracker:     tr,
		Accountant:  accountant,
		Allocator:   alloc,
		Verifier:    verifier,
		BypassJWT:   cfg.BypassJWT,
		AgentKey:    cfg.AgentSharedKey,
		Logger:      logger,
	})

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	go reg.RunStaleSweep(ctx, cfg.StaleSweepPeriod, cfg.StaleSweepMaxAge, func(removed []string) {
		level.Info(logger).Log("msg", "stale agents evicted", "count", len(removed))
		metrics.StaleAgentsRemovedTotal.Add(float64(len(removed)))
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTPListenAddress, cfg.HTTPListenPort)
	server := &http.Server{Addr: addr, Handler: router}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		level.Info(logger).Log("msg", "shutting down server...")
		if err := server.Close(); err != nil {
			level.Error(logger).Log("msg", "error during shutdown", "err", err)
		}
		close(done)
	}()

	level.Info(logger).Log("msg", "starting saimiris-gateway", "version", Version, "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	level.Info(logger).Log("msg", "server stopped")
	return nil
}

// buildRepository selects and constructs the Repository implementation
// per cfg.StorageBackend, applying schema migrations for the postgres
// backend (§6 "exit non-zero on any startup failure").
func buildRepository(ctx context.Context, cfg *Config, logger log.Logger) (store.Repository, func(), error) {
	switch cfg.StorageBackend {
	case "memory":
		return store.NewMemoryRepository(), func() {}, nil
	case "postgres":
		if err := store.Migrate(cfg.PostgresDSN); err != nil {
			return nil, nil, fmt.Errorf("applying migrations: %w", err)
		}
		pool, err := store.DialPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("dialing postgres: %w", err)
		}
		level.Info(logger).Log("msg", "connected to postgres repository")
		return store.NewPostgresRepository(pool), pool.Close, nil
	default:
		return nil, nil, errUnknownStorageBackend(cfg.StorageBackend)
	}
}

// buildPublisher selects and constructs the bus.Publisher per
// cfg.BusBackend.
func buildPublisher(cfg *Config) (bus.Publisher, func(), error) {
	switch cfg.BusBackend {
	case "memory":
		return bus.NewMemoryPublisher(), func() {}, nil
	case "kafka":
		client, err := bus.NewKafkaClient(bus.KafkaConfig{
			Brokers:      cfg.BusBrokers,
			Topic:        cfg.BusTopic,
			SASLUser:     cfg.BusSASLUser,
			SASLPassword: cfg.BusSASLPassword,
			UseTLS:       cfg.BusUseTLS,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := bus.EnsureTopic(context.Background(), client, cfg.BusTopic, 1, 1); err != nil {
			client.Close()
			return nil, nil, err
		}
		pub := bus.NewKafkaPublisher(client, cfg.BusTopic)
		return pub, pub.Close, nil
	default:
		return nil, nil, errUnknownBusBackend(cfg.BusBackend)
	}
}

func newLogger(levelName string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var lvl level.Option
	switch levelName {
	case "debug":
		lvl = level.AllowDebug()
	case "warn":
		lvl = level.AllowWarn()
	case "error":
		lvl = level.AllowError()
	default:
		lvl = level.AllowInfo()
	}
	return level.NewFilter(logger, lvl)
}

func loadConfig() (*Config, bool, error) {
	const (
		configFileOption      = "config.file"
		configExpandEnvOption = "config.expand-env"
		configVerifyOption    = "config.verify"
	)

	var (
		configFile      string
		configExpandEnv bool
		configVerify    bool
	)

	args := os.Args[1:]
	config := &Config{}

	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&configExpandEnv, configExpandEnvOption, false, "")
	fs.BoolVar(&configVerify, configVerifyOption, false, "")

	// Try to find -config.file & -config.expand-env flags. Parsing
	// stops at the first error (e.g. an unknown flag), so we just
	// retry against the remaining arguments until none are left.
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	config.RegisterFlagsAndApplyDefaults("", flag.CommandLine)

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, false, fmt.Errorf("failed to read configFile %s: %w", configFile, err)
		}

		if configExpandEnv {
			s, err := envsubst.EvalEnv(string(buf))
			if err != nil {
				return nil, false, fmt.Errorf("failed to expand env vars from configFile %s: %w", configFile, err)
			}
			buf = []byte(s)
		}

		if err := yaml.Unmarshal(buf, config); err != nil {
			return nil, false, fmt.Errorf("failed to parse configFile %s: %w", configFile, err)
		}
	}

	flagext.IgnoredFlag(flag.CommandLine, configFileOption, "Configuration file to load")
	flagext.IgnoredFlag(flag.CommandLine, configExpandEnvOption, "Whether to expand environment variables in config file")
	flagext.IgnoredFlag(flag.CommandLine, configVerifyOption, "Verify configuration and exit")
	flagext.IgnoredFlag(flag.CommandLine, "config.example", "Print an example configuration file and exit")
	flag.Parse()

	return config, configVerify, nil
}
