package bundler

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/eugenenazirov/bundle-launcher/internal/buildconfig"
)

// Metafile is the subset of the esbuild metafile the launcher reads.
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

// MetafileInput describes a source file that took part in the build.
type MetafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []MetafileImport `json:"imports"`
}

// MetafileImport is an import edge recorded in the metafile.
type MetafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
}

// MetafileOutput describes an emitted file.
type MetafileOutput struct {
	Bytes      int                     `json:"bytes"`
	Inputs     map[string]InputContrib `json:"inputs"`
	Imports    []MetafileImport        `json:"imports"`
	EntryPoint string                  `json:"entryPoint,omitempty"`
}

// InputContrib is the contribution of an input to an output.
type InputContrib struct {
	BytesInOutput int `json:"bytesInOutput"`
}

// Output is an emitted file as seen by the launcher.
type Output struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
	// Entry is the bundle name for entry outputs.
	Entry string `json:"entry,omitempty"`
	// Chunk is the cache group chunk name for shared chunks.
	Chunk string `json:"chunk,omitempty"`
}

// Report summarises a successful build.
type Report struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Outputs   []Output      `json:"outputs"`
	Warnings  []string      `json:"warnings,omitempty"`
	Metafile  Metafile      `json:"-"`
}

// Output returns the output emitted for the named entry.
func (r *Report) Output(entry string) (Output, bool) {
	for _, o := range r.Outputs {
		if o.Entry == entry {
			return o, true
		}
	}
	return Output{}, false
}

// outputsFromMetafile lists outputs in path order, labelling entry bundles by
// name and shared chunks by the highest priority cache group of their inputs.
func outputsFromMetafile(cfg *buildconfig.ResolvedConfiguration, meta Metafile) []Output {
	entryBySource := make(map[string]string, len(cfg.Entries))
	for _, e := range cfg.Entries {
		entryBySource[e.Source] = e.Name
	}

	paths := make([]string, 0, len(meta.Outputs))
	for p := range meta.Outputs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	outputs := make([]Output, 0, len(paths))
	for _, p := range paths {
		info := meta.Outputs[p]
		out := Output{Path: absPath(cfg.BaseDir, p), Bytes: info.Bytes}
		if info.EntryPoint != "" {
			out.Entry = entryBySource[absPath(cfg.BaseDir, info.EntryPoint)]
		} else if filepath.Ext(p) == ".js" {
			out.Chunk = chunkLabel(cfg, info)
		}
		outputs = append(outputs, out)
	}
	return outputs
}

func chunkLabel(cfg *buildconfig.ResolvedConfiguration, info MetafileOutput) string {
	inputs := make([]string, 0, len(info.Inputs))
	for in := range info.Inputs {
		inputs = append(inputs, in)
	}
	sort.Strings(inputs)

	var (
		best  buildconfig.ResolvedCacheGroup
		found bool
	)
	for _, in := range inputs {
		g, ok := cfg.CacheGroupFor(absPath(cfg.BaseDir, in))
		if ok && (!found || g.Priority > best.Priority) {
			best, found = g, true
		}
	}
	if !found {
		return ""
	}
	return best.Chunk
}

func absPath(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, filepath.FromSlash(p))
}
