package bundler

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
)

// Transform rewrites the contents of a source file before bundling and tells
// the engine how to interpret the result.
type Transform func(path string, source []byte, options map[string]any) (string, api.Loader, error)

// Transforms is a registry of named transform tools.
type Transforms struct {
	mu    sync.RWMutex
	tools map[string]Transform
}

// NewTransforms returns an empty registry.
func NewTransforms() *Transforms {
	return &Transforms{tools: make(map[string]Transform)}
}

// DefaultTransforms returns a registry with the loader names commonly used in
// webpack-style configurations, each mapped onto an esbuild loader.
func DefaultTransforms() *Transforms {
	t := NewTransforms()
	t.Register("babel-loader", passthrough(scriptLoader))
	t.Register("ts-loader", passthrough(scriptLoader))
	t.Register("css-loader", passthrough(fixed(api.LoaderCSS)))
	t.Register("style-loader", passthrough(fixed(api.LoaderCSS)))
	t.Register("json-loader", passthrough(fixed(api.LoaderJSON)))
	t.Register("raw-loader", passthrough(fixed(api.LoaderText)))
	t.Register("file-loader", passthrough(fixed(api.LoaderFile)))
	t.Register("url-loader", passthrough(fixed(api.LoaderDataURL)))
	return t
}

// Register adds or replaces a transform tool.
func (t *Transforms) Register(name string, fn Transform) {
	t.mu.Lock()
	t.tools[name] = fn
	t.mu.Unlock()
}

// Lookup returns the transform registered under name.
func (t *Transforms) Lookup(name string) (Transform, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.tools[name]
	return fn, ok
}

func passthrough(loaderFor func(path string) api.Loader) Transform {
	return func(path string, source []byte, _ map[string]any) (string, api.Loader, error) {
		return string(source), loaderFor(path), nil
	}
}

func fixed(loader api.Loader) func(string) api.Loader {
	return func(string) api.Loader { return loader }
}

// scriptLoader picks a script loader by extension. Plain .js files may
// contain JSX, as they can under babel.
func scriptLoader(path string) api.Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".json":
		return api.LoaderJSON
	default:
		return api.LoaderJSX
	}
}
