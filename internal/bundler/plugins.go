package bundler

import (
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/bundle-launcher/internal/buildconfig"
)

// LiveReloadPath is the server-sent events endpoint the live reload client
// subscribes to.
const LiveReloadPath = "/__bundle/events"

// PluginContext is what a plugin factory gets to work with.
type PluginContext struct {
	Config *buildconfig.ResolvedConfiguration
	Params map[string]any
	Logger *zap.Logger
}

// PluginFactory applies a declared plugin to the build options, either by
// adjusting them directly or by appending esbuild plugins.
type PluginFactory func(pc PluginContext, opts *api.BuildOptions) error

// Plugins is a registry of named plugin factories.
type Plugins struct {
	mu        sync.RWMutex
	factories map[string]PluginFactory
}

// NewPlugins returns an empty registry.
func NewPlugins() *Plugins {
	return &Plugins{factories: make(map[string]PluginFactory)}
}

// DefaultPlugins returns a registry with the html, hot-module-replacement and
// define plugins registered under their short and webpack names.
func DefaultPlugins() *Plugins {
	p := NewPlugins()
	p.Register(htmlPlugin, "html", "html-webpack-plugin", "HtmlWebpackPlugin")
	p.Register(hotReloadPlugin, "hot-module-replacement", "HotModuleReplacementPlugin")
	p.Register(definePlugin, "define", "DefinePlugin")
	return p
}

// Register adds a factory under one or more names.
func (p *Plugins) Register(factory PluginFactory, names ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range names {
		p.factories[name] = factory
	}
}

// Lookup returns the factory registered under name.
func (p *Plugins) Lookup(name string) (PluginFactory, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.factories[name]
	return f, ok
}

const defaultHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
</body>
</html>
`

// htmlPlugin writes an HTML page referencing every entry bundle once the
// build has finished.
func htmlPlugin(pc PluginContext, opts *api.BuildOptions) error {
	filename, err := stringParam(pc.Params, "filename", "index.html")
	if err != nil {
		return err
	}
	template, err := stringParam(pc.Params, "template", "")
	if err != nil {
		return err
	}
	title, err := stringParam(pc.Params, "title", "App")
	if err != nil {
		return err
	}

	cfg := pc.Config
	module := opts.Format == api.FormatESModule
	target := filepath.Join(cfg.OutputPath, filepath.FromSlash(filename))

	opts.Plugins = append(opts.Plugins, api.Plugin{
		Name: "html",
		Setup: func(build api.PluginBuild) {
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				if len(result.Errors) > 0 {
					return api.OnEndResult{}, nil
				}

				page := fmt.Sprintf(defaultHTMLTemplate, html.EscapeString(title))
				if template != "" {
					data, err := os.ReadFile(absPath(cfg.BaseDir, template))
					if err != nil {
						return api.OnEndResult{}, fmt.Errorf("read html template: %w", err)
					}
					page = string(data)
				}

				page = injectTags(page, cfg, module)
				if err := writeAtomically(target, []byte(page)); err != nil {
					return api.OnEndResult{}, err
				}
				pc.Logger.Debug("html page written", zap.String("path", target))
				return api.OnEndResult{}, nil
			})
		},
	})
	return nil
}

func injectTags(page string, cfg *buildconfig.ResolvedConfiguration, module bool) string {
	var head, body strings.Builder
	for _, e := range cfg.Entries {
		css := strings.TrimSuffix(e.OutputFile, filepath.Ext(e.OutputFile)) + ".css"
		if _, err := os.Stat(css); err == nil {
			cssURL := strings.TrimSuffix(e.PublicURL, filepath.Ext(e.PublicURL)) + ".css"
			fmt.Fprintf(&head, "<link rel=\"stylesheet\" href=\"%s\">\n", html.EscapeString(cssURL))
		}
		if module {
			fmt.Fprintf(&body, "<script type=\"module\" src=\"%s\"></script>\n", html.EscapeString(e.PublicURL))
		} else {
			fmt.Fprintf(&body, "<script src=\"%s\"></script>\n", html.EscapeString(e.PublicURL))
		}
	}

	page = insertBefore(page, "</head>", head.String())
	return insertBefore(page, "</body>", body.String())
}

func insertBefore(page, marker, tags string) string {
	if tags == "" {
		return page
	}
	idx := strings.LastIndex(page, marker)
	if idx < 0 {
		idx = strings.LastIndex(page, strings.ToUpper(marker))
	}
	if idx < 0 {
		return page + tags
	}
	return page[:idx] + tags + page[idx:]
}

func writeAtomically(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		_ = pendingFile.Cleanup()
	}()

	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}

const liveReloadClient = `;(function(){if(typeof window==="undefined"||!window.EventSource)return;` +
	`var es=new EventSource(%q);es.addEventListener("reload",function(){window.location.reload();});})();`

// hotReloadPlugin appends a live reload client to every script bundle.
func hotReloadPlugin(_ PluginContext, opts *api.BuildOptions) error {
	if opts.Footer == nil {
		opts.Footer = make(map[string]string)
	}
	client := fmt.Sprintf(liveReloadClient, LiveReloadPath)
	if existing := opts.Footer["js"]; existing != "" {
		client = existing + "\n" + client
	}
	opts.Footer["js"] = client
	return nil
}

// definePlugin replaces global identifiers with constant expressions. String
// values are used as code, other values are JSON encoded.
func definePlugin(pc PluginContext, opts *api.BuildOptions) error {
	if opts.Define == nil {
		opts.Define = make(map[string]string)
	}
	for key, value := range pc.Params {
		switch v := value.(type) {
		case string:
			opts.Define[key] = v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("%w: define %s: %v", ErrInvalidPluginParams, key, err)
			}
			opts.Define[key] = string(encoded)
		}
	}
	return nil
}

func stringParam(params map[string]any, key, fallback string) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidPluginParams, key, raw)
	}
	return s, nil
}
