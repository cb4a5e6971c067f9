package buildconfig

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	defaultFilename   = NamePlaceholder + ".js"
	defaultPublicPath = "/"
	defaultDevHost    = "localhost"
	defaultDevPort    = 8080
)

// ResolvedEntry is an entry point with its output location worked out.
type ResolvedEntry struct {
	Name string `json:"name" yaml:"name"`
	// Source is the absolute path of the entry source file.
	Source string `json:"source" yaml:"source"`
	// Filename is the output pattern with the bundle name substituted.
	Filename string `json:"filename" yaml:"filename"`
	// OutputFile is the absolute path the bundle is emitted to.
	OutputFile string `json:"outputFile" yaml:"outputFile"`
	// PublicURL is the URL the bundle is served under at runtime.
	PublicURL string `json:"publicURL" yaml:"publicURL"`
}

// ResolvedRule is a transform rule with its patterns compiled.
type ResolvedRule struct {
	TransformRule `yaml:",inline"`

	test    *regexp.Regexp
	exclude *regexp.Regexp
}

// Matches reports whether the rule applies to file.
func (r ResolvedRule) Matches(file string) bool {
	file = filepath.ToSlash(file)
	if r.test == nil || !r.test.MatchString(file) {
		return false
	}
	return r.exclude == nil || !r.exclude.MatchString(file)
}

// ResolvedCacheGroup is a cache group preserved as declared, with defaults
// made explicit in Chunk and Scope.
type ResolvedCacheGroup struct {
	CacheGroup `yaml:",inline"`

	// Chunk is the emitted chunk name.
	Chunk string `json:"chunk" yaml:"chunk"`
	// Scope is the chunk scope the group applies to.
	Scope string `json:"scope" yaml:"scope"`

	test *regexp.Regexp
}

// Matches reports whether file belongs to the group. A group without a test
// pattern matches every file.
func (g ResolvedCacheGroup) Matches(file string) bool {
	if g.test == nil {
		return true
	}
	return g.test.MatchString(filepath.ToSlash(file))
}

// ResolvedDevServer holds development server settings with defaults applied.
type ResolvedDevServer struct {
	ContentRoot string `json:"contentRoot" yaml:"contentRoot"`
	PublicPath  string `json:"publicPath" yaml:"publicPath"`
	LiveReload  bool   `json:"liveReload" yaml:"liveReload"`
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
}

// ResolvedConfiguration is the immutable form handed to the bundler engine.
type ResolvedConfiguration struct {
	Mode            Mode                 `json:"mode" yaml:"mode"`
	BaseDir         string               `json:"baseDir" yaml:"baseDir"`
	OutputPath      string               `json:"outputPath" yaml:"outputPath"`
	PublicPath      string               `json:"publicPath" yaml:"publicPath"`
	FilenamePattern string               `json:"filenamePattern" yaml:"filenamePattern"`
	Entries         []ResolvedEntry      `json:"entries" yaml:"entries"`
	Rules           []ResolvedRule       `json:"rules" yaml:"rules"`
	DevServer       ResolvedDevServer    `json:"devServer" yaml:"devServer"`
	Plugins         []Plugin             `json:"plugins" yaml:"plugins"`
	CacheGroups     []ResolvedCacheGroup `json:"cacheGroups" yaml:"cacheGroups"`
}

// Resolve validates cfg and expands it against baseDir. When baseDir is empty
// the directory of cfg.SourcePath is used, falling back to the working
// directory. Declaration order of entries, rules, plugins and cache groups is
// preserved.
func Resolve(cfg *BuildConfiguration, baseDir string) (*ResolvedConfiguration, error) {
	if err := Validate(cfg).Err(); err != nil {
		return nil, err
	}

	if baseDir == "" {
		baseDir = "."
		if cfg.SourcePath != "" {
			baseDir = filepath.Dir(cfg.SourcePath)
		}
	}
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeProduction
	}
	publicPath := cfg.OutputPublicPath
	if publicPath == "" {
		publicPath = defaultPublicPath
	}
	pattern := cfg.OutputFilename
	if pattern == "" {
		pattern = defaultFilename
	}

	out := &ResolvedConfiguration{
		Mode:            mode,
		BaseDir:         base,
		OutputPath:      resolvePath(base, cfg.OutputPath),
		PublicPath:      publicPath,
		FilenamePattern: pattern,
	}

	for _, ep := range cfg.EntryPoints {
		filename := strings.Replace(pattern, NamePlaceholder, ep.Name, 1)
		out.Entries = append(out.Entries, ResolvedEntry{
			Name:       ep.Name,
			Source:     resolvePath(base, ep.Source),
			Filename:   filename,
			OutputFile: filepath.Join(out.OutputPath, filepath.FromSlash(filename)),
			PublicURL:  joinURL(publicPath, filename),
		})
	}

	for _, rule := range cfg.Rules {
		rr := ResolvedRule{
			TransformRule: TransformRule{
				Test:    rule.Test,
				Exclude: rule.Exclude,
				Use:     rule.Use,
				Options: copyParams(rule.Options),
			},
			test: regexp.MustCompile(rule.Test),
		}
		if rule.Exclude != "" {
			rr.exclude = regexp.MustCompile(rule.Exclude)
		}
		out.Rules = append(out.Rules, rr)
	}

	dev := ResolvedDevServer{
		ContentRoot: out.OutputPath,
		PublicPath:  cfg.DevServer.PublicPath,
		LiveReload:  cfg.DevServer.Hot,
		Host:        cfg.DevServer.Host,
		Port:        cfg.DevServer.Port,
	}
	if cfg.DevServer.ContentBase != "" {
		dev.ContentRoot = resolvePath(base, cfg.DevServer.ContentBase)
	}
	if dev.PublicPath == "" {
		dev.PublicPath = publicPath
	}
	if dev.Host == "" {
		dev.Host = defaultDevHost
	}
	if dev.Port == 0 {
		dev.Port = defaultDevPort
	}
	out.DevServer = dev

	for _, p := range cfg.Plugins {
		out.Plugins = append(out.Plugins, Plugin{Name: p.Name, Params: copyParams(p.Params)})
	}

	for _, g := range cfg.CacheGroups {
		rg := ResolvedCacheGroup{CacheGroup: g, Chunk: g.Name, Scope: g.Chunks}
		if rg.Chunk == "" {
			rg.Chunk = g.Key
		}
		if rg.Scope == "" {
			rg.Scope = ChunksAsync
		}
		if g.Test != "" {
			rg.test = regexp.MustCompile(g.Test)
		}
		out.CacheGroups = append(out.CacheGroups, rg)
	}

	return out, nil
}

// MatchRule returns the first declared rule that applies to file.
func (c *ResolvedConfiguration) MatchRule(file string) (ResolvedRule, bool) {
	for _, rule := range c.Rules {
		if rule.Matches(file) {
			return rule, true
		}
	}
	return ResolvedRule{}, false
}

// CacheGroupsByPriority returns the cache groups ordered by descending
// priority. Groups of equal priority keep their declaration order.
func (c *ResolvedConfiguration) CacheGroupsByPriority() []ResolvedCacheGroup {
	groups := make([]ResolvedCacheGroup, len(c.CacheGroups))
	copy(groups, c.CacheGroups)
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Priority > groups[j].Priority
	})
	return groups
}

// CacheGroupFor returns the highest priority cache group file belongs to.
func (c *ResolvedConfiguration) CacheGroupFor(file string) (ResolvedCacheGroup, bool) {
	for _, g := range c.CacheGroupsByPriority() {
		if g.Matches(file) {
			return g, true
		}
	}
	return ResolvedCacheGroup{}, false
}

// Entry returns the resolved entry with the given name.
func (c *ResolvedConfiguration) Entry(name string) (ResolvedEntry, bool) {
	for _, e := range c.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return ResolvedEntry{}, false
}

func resolvePath(base, p string) string {
	if p == "" {
		return base
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, filepath.FromSlash(p))
}

func joinURL(prefix, name string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(name, "/")
}

func copyParams(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyParams(t)
	case map[any]any:
		out := make(map[any]any, len(t))
		for k, item := range t {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
