package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/bart-jansen/aoai-simulated-api/pkg/cli/internal/output"
	"github.com/bart-jansen/aoai-simulated-api/pkg/config"
	"github.com/bart-jansen/aoai-simulated-api/pkg/generate"
	"github.com/bart-jansen/aoai-simulated-api/pkg/logging"
	"github.com/bart-jansen/aoai-simulated-api/pkg/ratelimit"
	"github.com/bart-jansen/aoai-simulated-api/pkg/recording"
	"github.com/bart-jansen/aoai-simulated-api/pkg/simulator"
	"github.com/bart-jansen/aoai-simulated-api/pkg/telemetry"
	"github.com/bart-jansen/aoai-simulated-api/pkg/validation"

	"github.com/spf13/cobra"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 30 * time.Second

// serveFlagVals is the package-level instance bound to cobra flags.
var serveFlagVals serveFlags

// serveCmd represents the serve command, the foreground simulator server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the simulator (foreground)",
	Long: `Start the simulator. It operates in one of three modes:

1. generate (default): Synthesize OpenAI and Document Intelligence responses
2. record: Forward requests to a real Azure OpenAI endpoint and capture the exchanges
3. replay: Serve previously captured exchanges without touching Azure

Flags override environment variables, which override the configuration file.
Relevant environment variables: SIMULATOR_MODE, SIMULATOR_API_KEY,
SIMULATOR_PORT, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_KEY, RECORDING_DIR.`,
	Example: `  # Start in generate mode with defaults
  aoaisim serve

  # Start with a config file on a custom port
  aoaisim serve --config simulator.yaml --port 8001

  # Auto-assign a port and print it
  aoaisim serve --port 0 --print-url

  # Record traffic against a real endpoint
  aoaisim serve --mode record --forward-url https://myresource.openai.azure.com --forward-key $AZURE_OPENAI_KEY

  # Replay captured traffic
  aoaisim serve --mode replay --recording-dir ./recordings

  # Export metrics and traces to a local collector
  aoaisim serve --otel-exporter otlp-grpc --otel-endpoint localhost:4317

  # Validate requests against an OpenAPI document
  aoaisim serve --openapi-spec ./openapi.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, &serveFlagVals)
	},
}

func initServeCmd() {
	rootCmd.AddCommand(serveCmd)
	registerServeFlags(serveCmd, &serveFlagVals)
}

// registerServeFlags binds the serve flags onto cmd.
func registerServeFlags(cmd *cobra.Command, f *serveFlags) {
	// Standard server flags
	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")
	cmd.Flags().IntVarP(&f.port, "port", "p", config.DefaultPort, "HTTP server port (0 = OS auto-assign)")
	cmd.Flags().StringVar(&f.host, "host", config.DefaultHost, "Bind address")
	cmd.Flags().BoolVar(&f.printURL, "print-url", false, "Print the server URL to stdout on startup")
	cmd.Flags().StringVarP(&f.mode, "mode", "m", config.ModeGenerate, "Simulator mode (generate, record, replay)")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key clients must present (generated if empty)")
	cmd.Flags().IntVar(&f.readTimeout, "read-timeout", config.DefaultReadTimeout, "Read timeout in seconds")
	cmd.Flags().IntVar(&f.writeTimeout, "write-timeout", config.DefaultWriteTimeout, "Write timeout in seconds")

	// Recording flags
	cmd.Flags().StringVar(&f.recordingDir, "recording-dir", config.DefaultRecordingDir, "Directory recordings are persisted to")
	cmd.Flags().StringVar(&f.forwardURL, "forward-url", "", "Upstream Azure OpenAI endpoint for record mode")
	cmd.Flags().StringVar(&f.forwardKey, "forward-key", "", "api-key sent to the upstream in record mode")
	cmd.Flags().BoolVar(&f.autosave, "autosave", true, "Persist each recorded exchange as it completes")

	// Rate limit flags
	cmd.Flags().IntVar(&f.docIntelligenceRPS, "doc-intelligence-rps", config.DefaultDocIntelligenceRPS, "Document intelligence requests per second (0 or negative disables)")

	// Logging flags
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "text", "Log format (text, json)")

	// Telemetry flags
	cmd.Flags().StringVar(&f.otelExporter, "otel-exporter", config.ExporterNone, "Telemetry exporter (none, stdout, otlp-grpc, otlp-http)")
	cmd.Flags().StringVar(&f.otelEndpoint, "otel-endpoint", "", "OTLP collector endpoint (host:port)")

	// Validation flags
	cmd.Flags().StringVar(&f.openapiSpec, "openapi-spec", "", "Path to OpenAPI 3 document for strict request validation")
}

func init() {
	initServeCmd()
}

// serveFlags holds all parsed command-line flags for the serve command.
type serveFlags struct {
	configFile   string
	port         int
	host         string
	printURL     bool
	mode         string
	apiKey       string
	readTimeout  int
	writeTimeout int

	recordingDir string
	forwardURL   string
	forwardKey   string
	autosave     bool

	docIntelligenceRPS int

	logLevel  string
	logFormat string

	otelExporter string
	otelEndpoint string

	openapiSpec string
}

// serveContext carries the running pieces from startup to shutdown.
type serveContext struct {
	cfg               *config.Config
	log               *slog.Logger
	server            *simulator.Server
	recorder          *recording.Handler
	shutdownTelemetry telemetry.ShutdownFunc
}

// runServe is the main entry point for the serve command.
func runServe(cmd *cobra.Command, f *serveFlags) error {
	cfg, err := buildServeConfig(cmd, f)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: logging.ParseFormat(cfg.Logging.Format),
	})

	sctx, err := startServices(cfg, log)
	if err != nil {
		return err
	}

	// The bare URL goes to stdout for programmatic consumption,
	// pairing with --port 0 auto-assignment.
	if f.printURL {
		fmt.Printf("http://%s:%d\n", cfg.Host, sctx.server.HTTPPort())
	}

	printServeStartupMessage(sctx)

	return runMainLoop(sctx)
}

// buildServeConfig layers explicit flags over the loaded configuration.
func buildServeConfig(cmd *cobra.Command, f *serveFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = f.mode
	}
	if flags.Changed("host") {
		cfg.Host = f.host
	}
	if flags.Changed("port") {
		cfg.Port = f.port
	}
	if flags.Changed("api-key") {
		cfg.APIKey = f.apiKey
	}
	if flags.Changed("read-timeout") {
		cfg.ReadTimeout = f.readTimeout
	}
	if flags.Changed("write-timeout") {
		cfg.WriteTimeout = f.writeTimeout
	}
	if flags.Changed("recording-dir") {
		cfg.Recording.Dir = f.recordingDir
	}
	if flags.Changed("forward-url") {
		cfg.Recording.ForwardURL = f.forwardURL
	}
	if flags.Changed("forward-key") {
		cfg.Recording.ForwardKey = f.forwardKey
	}
	if flags.Changed("autosave") {
		autosave := f.autosave
		cfg.Recording.Autosave = &autosave
	}
	if flags.Changed("doc-intelligence-rps") {
		cfg.DocIntelligenceRPS = f.docIntelligenceRPS
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = f.logFormat
	}
	if flags.Changed("otel-exporter") {
		cfg.Telemetry.Exporter = f.otelExporter
	}
	if flags.Changed("otel-endpoint") {
		cfg.Telemetry.Endpoint = f.otelEndpoint
	}
	if flags.Changed("openapi-spec") {
		cfg.Validation.OpenAPISpec = f.openapiSpec
	}

	// Flags can change the mode, so the combined result needs another check.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Validate treats port 0 as unset, but an explicit --port 0 means
	// the OS assigns the port.
	if flags.Changed("port") && f.port == 0 {
		cfg.Port = 0
	}
	return cfg, nil
}

// startServices builds the simulator pipeline and starts the HTTP server.
func startServices(cfg *config.Config, log *slog.Logger) (*serveContext, error) {
	shutdownTelemetry, err := telemetry.Init(context.Background(), cfg.Telemetry, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	metrics, err := simulator.NewMetrics(otel.Meter(cfg.Telemetry.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	opts := []simulator.ServerOption{
		simulator.WithLogger(log),
		simulator.WithTracer(otel.Tracer(cfg.Telemetry.ServiceName)),
		simulator.WithMetrics(metrics),
		simulator.WithLimiter(ratelimit.KeyOpenAI,
			ratelimit.NewOpenAILimiter(log.With("component", "ratelimit"), cfg.OpenAIDeployments)),
		simulator.WithLimiter(ratelimit.KeyDocIntelligence,
			ratelimit.NewDocIntelligenceLimiter(log.With("component", "ratelimit"), cfg.DocIntelligenceRPS)),
	}

	var recorder *recording.Handler
	switch cfg.Mode {
	case config.ModeGenerate:
		generators, err := buildGenerators(cfg, log.With("component", "generate"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, simulator.WithGenerators(generators...))
	case config.ModeRecord, config.ModeReplay:
		recorder, err = buildRecorder(cfg, log.With("component", "recording"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, simulator.WithRecorder(recorder))
	}

	if cfg.Validation.OpenAPISpec != "" {
		validator, err := validation.NewOpenAPIValidator(log.With("component", "validation"), cfg.Validation.OpenAPISpec)
		if err != nil {
			return nil, fmt.Errorf("failed to load OpenAPI spec: %w", err)
		}
		opts = append(opts, simulator.WithValidator(validator))
	}

	srv := simulator.NewServer(cfg, opts...)
	if err := srv.Start(); err != nil {
		if isAddrInUseError(err) {
			return nil, fmt.Errorf("port %d is already in use; try a different port with --port or check what's using it: lsof -i :%d", cfg.Port, cfg.Port)
		}
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	return &serveContext{
		cfg:               cfg,
		log:               log,
		server:            srv,
		recorder:          recorder,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

// buildGenerators assembles the generate-mode chain. Config-driven rules run
// first so they can shadow the built-in generators.
func buildGenerators(cfg *config.Config, log *slog.Logger) ([]simulator.Generator, error) {
	generators := make([]simulator.Generator, 0, 3)

	if len(cfg.Generators) > 0 {
		rules, err := generate.NewRuleGenerator(log, cfg.Generators)
		if err != nil {
			return nil, fmt.Errorf("failed to compile generator rules: %w", err)
		}
		generators = append(generators, rules)
	}

	generators = append(generators,
		generate.NewOpenAIGenerator(log, cfg.OpenAIDeployments),
		generate.NewDocumentIntelligenceGenerator(log),
	)
	return generators, nil
}

// buildRecorder assembles the record/replay handler. Replay mode loads all
// recordings up front so a bad directory fails at startup, not per request.
func buildRecorder(cfg *config.Config, log *slog.Logger) (*recording.Handler, error) {
	hcfg := recording.HandlerConfig{
		Mode:          cfg.Mode,
		Persister:     recording.NewPersister(cfg.Recording.Dir),
		Autosave:      cfg.Recording.AutosaveEnabled(),
		FilterHeaders: cfg.Recording.FilterHeaders,
	}

	if cfg.Mode == config.ModeRecord {
		forwarder, err := recording.NewAOAIForwarder(log, cfg.Recording.ForwardURL, cfg.Recording.ForwardKey)
		if err != nil {
			return nil, err
		}
		hcfg.Forwarders = []recording.Forwarder{forwarder}
	}

	recorder := recording.NewHandler(log, hcfg)

	if cfg.Mode == config.ModeReplay {
		count, err := recorder.Preload()
		if err != nil {
			return nil, fmt.Errorf("failed to load recordings from %s: %w", cfg.Recording.Dir, err)
		}
		log.Info("loaded recordings", "dir", cfg.Recording.Dir, "count", count)
	}

	return recorder, nil
}

// runMainLoop handles the main event loop and graceful shutdown.
func runMainLoop(sctx *serveContext) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan
	fmt.Println("\nShutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop the HTTP server first so no new recordings arrive
	if err := sctx.server.Stop(); err != nil {
		output.Warn("server shutdown error: %v", err)
	}

	// Flush recordings that autosave has not persisted yet
	if sctx.recorder != nil {
		if err := sctx.recorder.SaveRecordings(); err != nil {
			output.Warn("failed to save recordings: %v", err)
		}
	}

	// Shutdown telemetry (flush remaining spans and metrics)
	if err := sctx.shutdownTelemetry(shutdownCtx); err != nil {
		output.Warn("telemetry shutdown error: %v", err)
	}

	fmt.Println("Server stopped")
	return nil
}

// printServeStartupMessage prints the server startup information.
func printServeStartupMessage(sctx *serveContext) {
	cfg := sctx.cfg

	fmt.Printf("aoaisim started in %s mode\n", cfg.Mode)
	fmt.Println()
	fmt.Printf("  Endpoint: http://localhost:%d\n", sctx.server.HTTPPort())
	fmt.Printf("  API key:  %s\n", cfg.APIKey)

	switch cfg.Mode {
	case config.ModeGenerate:
		if len(cfg.OpenAIDeployments) > 0 {
			names := make([]string, 0, len(cfg.OpenAIDeployments))
			for name := range cfg.OpenAIDeployments {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Println()
			fmt.Println("  Deployments:")
			for _, name := range names {
				d := cfg.OpenAIDeployments[name]
				fmt.Printf("    %s (%s, %d tokens/min)\n", name, d.Model, d.TokensPerMinute)
			}
		}
	case config.ModeRecord:
		fmt.Printf("  Upstream:   %s\n", cfg.Recording.ForwardURL)
		fmt.Printf("  Recordings: %s\n", cfg.Recording.Dir)
	case config.ModeReplay:
		fmt.Printf("  Recordings: %s\n", cfg.Recording.Dir)
	}

	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
}

// isAddrInUseError reports whether err means the listen address is taken.
func isAddrInUseError(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
