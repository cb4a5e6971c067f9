package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/eugenenazirov/bundle-launcher/internal/buildconfig"
)

// Engine builds a resolved configuration.
type Engine interface {
	Build(ctx context.Context, cfg *buildconfig.ResolvedConfiguration) (*Report, error)
}

// Esbuild is an Engine backed by the esbuild Go API.
type Esbuild struct {
	logger     *zap.Logger
	transforms *Transforms
	plugins    *Plugins
	clock      func() time.Time
}

// Option configures an Esbuild engine.
type Option func(*Esbuild)

// WithTransforms replaces the transform tool registry.
func WithTransforms(t *Transforms) Option {
	return func(e *Esbuild) {
		e.transforms = t
	}
}

// WithPlugins replaces the plugin registry.
func WithPlugins(p *Plugins) Option {
	return func(e *Esbuild) {
		e.plugins = p
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Esbuild) {
		e.clock = clock
	}
}

// New constructs an esbuild engine with the default registries.
func New(logger *zap.Logger, opts ...Option) *Esbuild {
	e := &Esbuild{
		logger:     logger,
		transforms: DefaultTransforms(),
		plugins:    DefaultPlugins(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Build runs esbuild once. The build itself cannot be interrupted; ctx is
// checked before it starts.
func (e *Esbuild) Build(ctx context.Context, cfg *buildconfig.ResolvedConfiguration) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts, err := e.Options(cfg)
	if err != nil {
		return nil, err
	}

	names := lo.Map(cfg.Entries, func(entry buildconfig.ResolvedEntry, _ int) string {
		return entry.Name
	})
	e.logger.Info("building bundles",
		zap.Strings("entries", names),
		zap.String("mode", string(cfg.Mode)),
		zap.String("output", cfg.OutputPath),
	)

	start := e.clock()
	result := api.Build(opts)
	elapsed := e.clock().Sub(start)

	if len(result.Errors) > 0 {
		buildErr := &BuildError{Messages: make([]string, 0, len(result.Errors))}
		for _, msg := range result.Errors {
			e.logger.Error("build error", zap.String("error", formatMessage(msg)))
			buildErr.Messages = append(buildErr.Messages, formatMessage(msg))
		}
		return nil, buildErr
	}

	var meta Metafile
	if err := json.Unmarshal([]byte(result.Metafile), &meta); err != nil {
		return nil, fmt.Errorf("parse metafile: %w", err)
	}

	report := &Report{
		StartedAt: start,
		Duration:  elapsed,
		Outputs:   outputsFromMetafile(cfg, meta),
		Metafile:  meta,
	}
	for _, msg := range result.Warnings {
		report.Warnings = append(report.Warnings, formatMessage(msg))
	}
	for _, out := range report.Outputs {
		e.logger.Info("built file",
			zap.String("file", out.Path),
			zap.Int("bytes", out.Bytes),
			zap.String("entry", out.Entry),
			zap.String("chunk", out.Chunk),
		)
	}
	e.logger.Info("build finished", zap.Duration("duration", elapsed), zap.Int("warnings", len(report.Warnings)))

	return report, nil
}

// Options maps a resolved configuration onto esbuild build options.
func (e *Esbuild) Options(cfg *buildconfig.ResolvedConfiguration) (api.BuildOptions, error) {
	opts := api.BuildOptions{
		AbsWorkingDir: cfg.BaseDir,
		Outdir:        cfg.OutputPath,
		PublicPath:    cfg.PublicPath,
		ChunkNames:    "[name]-[hash]",
		AssetNames:    "assets/[name]-[hash]",
		Bundle:        true,
		Write:         true,
		Metafile:      true,
		LogLevel:      api.LogLevelSilent,
		Platform:      api.PlatformBrowser,
		Format:        api.FormatIIFE,
		Define:        map[string]string{},
	}

	// esbuild applies one output extension to every entry, so it comes from
	// the pattern rather than from each substituted filename.
	ext := buildconfig.FilenameExtension(cfg.FilenamePattern)
	if ext == "" {
		return api.BuildOptions{}, fmt.Errorf("%w: %q", ErrFilenameExtension, cfg.FilenamePattern)
	}
	if ext != ".js" {
		opts.OutExtension = map[string]string{".js": ext}
	}
	for _, entry := range cfg.Entries {
		opts.EntryPointsAdvanced = append(opts.EntryPointsAdvanced, api.EntryPoint{
			InputPath:  entry.Source,
			OutputPath: strings.TrimSuffix(filepath.ToSlash(entry.Filename), ext),
		})
	}

	switch cfg.Mode {
	case buildconfig.ModeProduction:
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
		opts.Define["process.env.NODE_ENV"] = `"production"`
	case buildconfig.ModeDevelopment:
		opts.Sourcemap = api.SourceMapLinked
		opts.Define["process.env.NODE_ENV"] = `"development"`
	}

	if lo.SomeBy(cfg.CacheGroups, func(g buildconfig.ResolvedCacheGroup) bool {
		return g.Scope == buildconfig.ChunksAll || g.Scope == buildconfig.ChunksAsync
	}) {
		opts.Splitting = true
		opts.Format = api.FormatESModule
	}

	if len(cfg.Rules) > 0 {
		for _, rule := range cfg.Rules {
			if _, ok := e.transforms.Lookup(rule.Use); !ok {
				return api.BuildOptions{}, fmt.Errorf("%w: %s", ErrUnknownTransform, rule.Use)
			}
		}
		opts.Plugins = append(opts.Plugins, e.rulesPlugin(cfg))
	}

	for _, p := range cfg.Plugins {
		factory, ok := e.plugins.Lookup(p.Name)
		if !ok {
			return api.BuildOptions{}, fmt.Errorf("%w: %s", ErrUnknownPlugin, p.Name)
		}
		pc := PluginContext{Config: cfg, Params: p.Params, Logger: e.logger}
		if err := factory(pc, &opts); err != nil {
			return api.BuildOptions{}, fmt.Errorf("plugin %s: %w", p.Name, err)
		}
	}

	return opts, nil
}

// rulesPlugin routes every file load through the first matching transform rule.
func (e *Esbuild) rulesPlugin(cfg *buildconfig.ResolvedConfiguration) api.Plugin {
	return api.Plugin{
		Name: "transform-rules",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					rule, ok := cfg.MatchRule(args.Path)
					if !ok {
						return api.OnLoadResult{}, nil
					}
					transform, ok := e.transforms.Lookup(rule.Use)
					if !ok {
						return api.OnLoadResult{}, fmt.Errorf("%w: %s", ErrUnknownTransform, rule.Use)
					}

					source, err := os.ReadFile(args.Path)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					contents, loader, err := transform(args.Path, source, rule.Options)
					if err != nil {
						return api.OnLoadResult{}, fmt.Errorf("%s: %w", rule.Use, err)
					}

					return api.OnLoadResult{
						PluginName: rule.Use,
						Contents:   &contents,
						Loader:     loader,
						ResolveDir: filepath.Dir(args.Path),
					}, nil
				})
		},
	}
}

func formatMessage(msg api.Message) string {
	if msg.Location == nil {
		return msg.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
}
