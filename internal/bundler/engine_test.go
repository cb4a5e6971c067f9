package bundler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/bundle-launcher/internal/buildconfig"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func resolve(t *testing.T, root string, cfg *buildconfig.BuildConfiguration) *buildconfig.ResolvedConfiguration {
	t.Helper()
	resolved, err := buildconfig.Resolve(cfg, root)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	return resolved
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestBuildEmitsEntryAndHTML(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"index.js":   "import { greet } from './greet.js';\nconsole.log(greet('bundle'), __VERSION__);\n",
		"greet.js":   "export function greet(name) { return 'hello ' + name; }\n",
		"index.html": "<!DOCTYPE html>\n<html><head><title>t</title></head><body><div id=\"app\"></div></body></html>\n",
	})

	cfg := resolve(t, root, &buildconfig.BuildConfiguration{
		Mode:           buildconfig.ModeNone,
		EntryPoints:    []buildconfig.EntryPoint{{Name: "main", Source: "index.js"}},
		OutputPath:     "dist",
		OutputFilename: "[name].js",
		Rules: []buildconfig.TransformRule{{
			Test:    `\.(js|jsx)$`,
			Exclude: `(node_modules|bower_components)`,
			Use:     "babel-loader",
		}},
		Plugins: []buildconfig.Plugin{
			{Name: "html-webpack-plugin", Params: map[string]any{"template": "./index.html"}},
			{Name: "define", Params: map[string]any{"__VERSION__": `"1.2.3"`}},
		},
	})

	started := time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC)
	report, err := New(zaptest.NewLogger(t), WithClock(func() time.Time { return started })).Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if !report.StartedAt.Equal(started) || report.Duration != 0 {
		t.Fatalf("expected injected clock to be used, got %s / %s", report.StartedAt, report.Duration)
	}

	out, ok := report.Output("main")
	if !ok {
		t.Fatalf("expected main output in report, got %+v", report.Outputs)
	}
	if want := filepath.Join(root, "dist", "main.js"); out.Path != want {
		t.Fatalf("expected %s, got %s", want, out.Path)
	}

	bundle := readFile(t, out.Path)
	if !strings.Contains(bundle, "hello ") || !strings.Contains(bundle, "1.2.3") {
		t.Fatalf("bundle is missing inlined code:\n%s", bundle)
	}

	page := readFile(t, filepath.Join(root, "dist", "index.html"))
	if !strings.Contains(page, `<script src="/main.js"></script>`) {
		t.Fatalf("expected script tag in page:\n%s", page)
	}
	if !strings.Contains(page, `<div id="app"></div>`) {
		t.Fatalf("expected template body to be kept:\n%s", page)
	}
}

func TestBuildLabelsVendorChunk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.js":                      "import { shared } from 'lib';\nconsole.log('a', shared());\n",
		"b.js":                      "import { shared } from 'lib';\nconsole.log('b', shared());\n",
		"node_modules/lib/index.js": "export function shared() { return 42; }\n",
	})

	cfg := resolve(t, root, &buildconfig.BuildConfiguration{
		Mode: buildconfig.ModeNone,
		EntryPoints: []buildconfig.EntryPoint{
			{Name: "a", Source: "a.js"},
			{Name: "b", Source: "b.js"},
		},
		OutputPath: "dist",
		CacheGroups: []buildconfig.CacheGroup{{
			Key:      "vendor",
			Name:     "vendor",
			Test:     `[\\/]node_modules[\\/]`,
			Chunks:   buildconfig.ChunksAll,
			Priority: -10,
		}},
	})

	report, err := New(zaptest.NewLogger(t)).Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	var vendor int
	for _, out := range report.Outputs {
		if out.Chunk == "vendor" {
			vendor++
		}
	}
	if vendor != 1 {
		t.Fatalf("expected one vendor chunk, got outputs %+v", report.Outputs)
	}
	for _, name := range []string{"a", "b"} {
		if _, ok := report.Output(name); !ok {
			t.Fatalf("expected entry %s in report", name)
		}
	}
}

func TestBuildReportsEngineErrors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"index.js": "import './missing.js';\n",
	})

	cfg := resolve(t, root, &buildconfig.BuildConfiguration{
		EntryPoints: []buildconfig.EntryPoint{{Name: "main", Source: "index.js"}},
		OutputPath:  "dist",
	})

	_, err := New(zaptest.NewLogger(t)).Build(context.Background(), cfg)

	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if len(buildErr.Messages) == 0 || !strings.Contains(buildErr.Error(), "missing.js") {
		t.Fatalf("expected message about missing.js, got %v", buildErr.Messages)
	}
}

func TestBuildRejectsUnknownToolsAndPlugins(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	base := buildconfig.BuildConfiguration{
		EntryPoints: []buildconfig.EntryPoint{{Name: "main", Source: "index.js"}},
		OutputPath:  "dist",
	}

	withRule := base
	withRule.Rules = []buildconfig.TransformRule{{Test: `\.vue$`, Use: "vue-loader"}}
	if _, err := New(zaptest.NewLogger(t)).Build(context.Background(), resolve(t, root, &withRule)); !errors.Is(err, ErrUnknownTransform) {
		t.Fatalf("expected ErrUnknownTransform, got %v", err)
	}

	withPlugin := base
	withPlugin.Plugins = []buildconfig.Plugin{{Name: "CopyWebpackPlugin"}}
	if _, err := New(zaptest.NewLogger(t)).Build(context.Background(), resolve(t, root, &withPlugin)); !errors.Is(err, ErrUnknownPlugin) {
		t.Fatalf("expected ErrUnknownPlugin, got %v", err)
	}
}

func TestBuildHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := resolve(t, root, &buildconfig.BuildConfiguration{
		EntryPoints: []buildconfig.EntryPoint{{Name: "main", Source: "index.js"}},
		OutputPath:  "dist",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New(zaptest.NewLogger(t)).Build(ctx, cfg); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOptionsMapping(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := resolve(t, root, &buildconfig.BuildConfiguration{
		Mode:             buildconfig.ModeProduction,
		EntryPoints:      []buildconfig.EntryPoint{{Name: "main", Source: "src/index.ts"}},
		OutputPath:       "dist",
		OutputPublicPath: "/static/",
		OutputFilename:   "js/[name].bundle.mjs",
		Plugins:          []buildconfig.Plugin{{Name: "HotModuleReplacementPlugin"}},
		CacheGroups:      []buildconfig.CacheGroup{{Key: "vendor", Chunks: buildconfig.ChunksInitial}},
	})

	opts, err := New(zaptest.NewLogger(t)).Options(cfg)
	if err != nil {
		t.Fatalf("Options returned error: %v", err)
	}

	if len(opts.EntryPointsAdvanced) != 1 {
		t.Fatalf("expected one entry point, got %d", len(opts.EntryPointsAdvanced))
	}
	ep := opts.EntryPointsAdvanced[0]
	if ep.OutputPath != "js/main.bundle" || ep.InputPath != filepath.Join(root, "src", "index.ts") {
		t.Fatalf("unexpected entry mapping: %+v", ep)
	}
	if opts.OutExtension[".js"] != ".mjs" {
		t.Fatalf("expected .mjs out extension, got %v", opts.OutExtension)
	}
	if !opts.MinifySyntax || opts.Define["process.env.NODE_ENV"] != `"production"` {
		t.Fatalf("expected production settings")
	}
	if opts.Splitting || opts.Format != api.FormatIIFE {
		t.Fatalf("initial-only cache groups must not enable splitting")
	}
	if opts.PublicPath != "/static/" || opts.Outdir != filepath.Join(root, "dist") {
		t.Fatalf("unexpected output mapping: %q %q", opts.PublicPath, opts.Outdir)
	}
	if !strings.Contains(opts.Footer["js"], LiveReloadPath) {
		t.Fatalf("expected live reload client in footer, got %q", opts.Footer["js"])
	}
}

func TestBuildEmitsResolvedOutputFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"app.js":  "console.log('app');\n",
		"main.js": "console.log('main');\n",
	})

	cfg := resolve(t, root, &buildconfig.BuildConfiguration{
		Mode: buildconfig.ModeNone,
		EntryPoints: []buildconfig.EntryPoint{
			{Name: "app.v2", Source: "app.js"},
			{Name: "main", Source: "main.js"},
		},
		OutputPath:     "dist",
		OutputFilename: "[name].js",
	})

	report, err := New(zaptest.NewLogger(t)).Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	for _, entry := range cfg.Entries {
		out, ok := report.Output(entry.Name)
		if !ok {
			t.Fatalf("no output reported for entry %s: %+v", entry.Name, report.Outputs)
		}
		if out.Path != entry.OutputFile {
			t.Fatalf("entry %s emitted %s, resolved %s", entry.Name, out.Path, entry.OutputFile)
		}
		readFile(t, entry.OutputFile)
	}
	if _, err := os.Stat(filepath.Join(root, "dist", "main.v2.js")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("dotted entry name leaked into other entries: %v", err)
	}
}

func TestOptionsRejectsPatternWithoutExtension(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := &buildconfig.ResolvedConfiguration{
		BaseDir:         root,
		OutputPath:      filepath.Join(root, "dist"),
		FilenamePattern: "[name]",
		Entries: []buildconfig.ResolvedEntry{{
			Name:       "main",
			Source:     filepath.Join(root, "index.js"),
			Filename:   "main",
			OutputFile: filepath.Join(root, "dist", "main"),
		}},
	}

	_, err := New(zaptest.NewLogger(t)).Options(cfg)
	if !errors.Is(err, ErrFilenameExtension) {
		t.Fatalf("expected ErrFilenameExtension, got %v", err)
	}
}

func TestCustomTransformIsApplied(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"index.js":   "import banner from './banner.txt';\nconsole.log(banner);\n",
		"banner.txt": "shout",
	})

	transforms := DefaultTransforms()
	transforms.Register("upper-loader", func(_ string, source []byte, _ map[string]any) (string, api.Loader, error) {
		return strings.ToUpper(string(source)), api.LoaderText, nil
	})

	cfg := resolve(t, root, &buildconfig.BuildConfiguration{
		Mode:        buildconfig.ModeNone,
		EntryPoints: []buildconfig.EntryPoint{{Name: "main", Source: "index.js"}},
		OutputPath:  "dist",
		Rules:       []buildconfig.TransformRule{{Test: `\.txt$`, Use: "upper-loader"}},
	})

	report, err := New(zaptest.NewLogger(t), WithTransforms(transforms)).Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	out, _ := report.Output("main")
	if bundle := readFile(t, out.Path); !strings.Contains(bundle, "SHOUT") {
		t.Fatalf("expected transformed text in bundle:\n%s", bundle)
	}
}

func TestCustomPluginIsApplied(t *testing.T) {
	t.Parallel()

	plugins := DefaultPlugins()
	plugins.Register(func(pc PluginContext, opts *api.BuildOptions) error {
		text, err := stringParam(pc.Params, "text", "")
		if err != nil {
			return err
		}
		opts.Banner = map[string]string{"js": "/* " + text + " */"}
		return nil
	}, "banner", "BannerPlugin")

	root := t.TempDir()
	cfg := resolve(t, root, &buildconfig.BuildConfiguration{
		EntryPoints: []buildconfig.EntryPoint{{Name: "main", Source: "index.js"}},
		OutputPath:  "dist",
		Plugins:     []buildconfig.Plugin{{Name: "BannerPlugin", Params: map[string]any{"text": "built by launcher"}}},
	})

	opts, err := New(zaptest.NewLogger(t), WithPlugins(plugins)).Options(cfg)
	if err != nil {
		t.Fatalf("Options returned error: %v", err)
	}
	if opts.Banner["js"] != "/* built by launcher */" {
		t.Fatalf("expected banner, got %v", opts.Banner)
	}

	cfg.Plugins[0].Params["text"] = 42
	if _, err := New(zaptest.NewLogger(t), WithPlugins(plugins)).Options(cfg); !errors.Is(err, ErrInvalidPluginParams) {
		t.Fatalf("expected ErrInvalidPluginParams, got %v", err)
	}
}
