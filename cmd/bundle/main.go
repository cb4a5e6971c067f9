package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/google/renameio/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/bundle-launcher/internal/application"
	"github.com/eugenenazirov/bundle-launcher/internal/buildconfig"
	"github.com/eugenenazirov/bundle-launcher/internal/config"
	"github.com/eugenenazirov/bundle-launcher/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	kingpinApp := kingpin.New("bundle", "Bundle launcher - validates, resolves and builds webpack-style build configurations")
	kingpinApp.UsageWriter(stdout)
	kingpinApp.ErrorWriter(stderr)
	kingpinApp.Terminate(nil)

	settingsFile := kingpinApp.Flag("settings", "Path to launcher YAML settings file").String()
	configFile := kingpinApp.Flag("config", "Path to the build configuration (YAML or JSON)").Short('c').String()
	baseDir := kingpinApp.Flag("base-dir", "Directory relative paths are resolved against").String()
	mode := kingpinApp.Flag("mode", "Override the build mode (none, development, production)").String()
	host := kingpinApp.Flag("host", "Dev server host").String()
	port := kingpinApp.Flag("port", "Dev server port").String()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	logFormat := kingpinApp.Flag("log-format", "Log encoding (json, console)").String()
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Dev server requests per second (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for the dev server rate limiter").Default("-1").Int()

	validateCmd := kingpinApp.Command("validate", "Check the build configuration and report every violation")
	resolveCmd := kingpinApp.Command("resolve", "Print the resolved build configuration")
	format := resolveCmd.Flag("format", "Output format").Default("yaml").Enum("yaml", "json")
	outFile := resolveCmd.Flag("out", "Write the resolved configuration to a file instead of stdout").String()
	buildCmd := kingpinApp.Command("build", "Run a single build")
	serveCmd := kingpinApp.Command("serve", "Build, serve the output and rebuild on change")

	command, err := kingpinApp.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "bundle: %v\n", err)
		return 2
	}

	overrides := &config.CLIOverrides{
		SettingsFile: *settingsFile,
	}
	for _, o := range []struct {
		value  string
		target **string
	}{
		{*configFile, &overrides.ConfigFile},
		{*baseDir, &overrides.BaseDir},
		{*mode, &overrides.Mode},
		{*host, &overrides.Host},
		{*port, &overrides.Port},
		{*logLevel, &overrides.LogLevel},
		{*logFormat, &overrides.LogFormat},
	} {
		if o.value != "" {
			v := o.value
			*o.target = &v
		}
	}

	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}

	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Encoding: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	switch command {
	case validateCmd.FullCommand():
		return runValidate(cfg, stdout, stderr)
	case resolveCmd.FullCommand():
		return runResolve(cfg, *format, *outFile, stdout, stderr)
	case buildCmd.FullCommand():
		return runBuild(cfg, logger, stdout, stderr)
	case serveCmd.FullCommand():
		return runServe(cfg, logger, stderr)
	}

	fmt.Fprintf(stderr, "bundle: unknown command %q\n", command)
	return 2
}

func runValidate(cfg config.Config, stdout, stderr io.Writer) int {
	build, err := application.LoadBuildConfiguration(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	result := buildconfig.Validate(build)
	if !result.Valid() {
		fmt.Fprintf(stderr, "%s: %d violation(s)\n", cfg.ConfigFile, len(result.Violations))
		for _, v := range result.Violations {
			fmt.Fprintf(stderr, "  - [%s] %s\n", v.Code, v)
		}
		return 1
	}

	fmt.Fprintf(stdout, "%s: configuration is valid\n", cfg.ConfigFile)
	return 0
}

func runResolve(cfg config.Config, format, outFile string, stdout, stderr io.Writer) int {
	build, err := application.LoadBuildConfiguration(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	resolved, err := buildconfig.Resolve(build, cfg.BaseDir)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	data, err := encodeResolved(resolved, format)
	if err != nil {
		fmt.Fprintf(stderr, "encode resolved configuration: %v\n", err)
		return 1
	}

	if outFile == "" {
		_, _ = stdout.Write(data)
		return 0
	}
	if err := os.MkdirAll(filepath.Dir(outFile), 0o755); err != nil {
		fmt.Fprintf(stderr, "create output dir: %v\n", err)
		return 1
	}
	if err := renameio.WriteFile(outFile, data, 0o644); err != nil {
		fmt.Fprintf(stderr, "write %s: %v\n", outFile, err)
		return 1
	}
	fmt.Fprintf(stdout, "resolved configuration written to %s\n", outFile)
	return 0
}

func encodeResolved(resolved *buildconfig.ResolvedConfiguration, format string) ([]byte, error) {
	if format == "json" {
		data, err := json.MarshalIndent(resolved, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(resolved); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func runBuild(cfg config.Config, logger *zap.Logger, stdout, stderr io.Writer) int {
	app, err := application.New(cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ctx, cancel := shutdownContext(logger)
	defer cancel()

	report, err := app.Build(ctx)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	base := app.Resolved().BaseDir
	for _, out := range report.Outputs {
		path := out.Path
		if rel, err := filepath.Rel(base, out.Path); err == nil {
			path = rel
		}
		fmt.Fprintf(stdout, "%s\t%d bytes\n", path, out.Bytes)
	}
	return 0
}

func runServe(cfg config.Config, logger *zap.Logger, stderr io.Writer) int {
	app, err := application.New(cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ctx, cancel := shutdownContext(logger)
	defer cancel()

	if err := app.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dev server stopped", zap.Error(err))
		return 1
	}
	return 0
}

// shutdownContext returns a context that is cancelled on SIGINT or SIGTERM.
func shutdownContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-quit:
			logger.Info("shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(quit)
	}()

	return ctx, cancel
}
