package buildconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the on-disk layout of a build configuration. Entry and
// cache group mappings are kept as nodes so declaration order and duplicate
// keys survive decoding.
type fileConfig struct {
	Mode         string           `yaml:"mode"`
	Entry        yaml.Node        `yaml:"entry"`
	Output       fileOutput       `yaml:"output"`
	Module       fileModule       `yaml:"module"`
	DevServer    fileDevServer    `yaml:"devServer"`
	Plugins      []filePlugin     `yaml:"plugins"`
	Optimization fileOptimization `yaml:"optimization"`
}

type fileOutput struct {
	Path       string `yaml:"path"`
	PublicPath string `yaml:"publicPath"`
	Filename   string `yaml:"filename"`
}

type fileModule struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	Test    string         `yaml:"test"`
	Exclude string         `yaml:"exclude"`
	Use     yaml.Node      `yaml:"use"`
	Options map[string]any `yaml:"options"`
}

type fileLoader struct {
	Loader  string         `yaml:"loader"`
	Options map[string]any `yaml:"options"`
}

type fileDevServer struct {
	ContentBase string `yaml:"contentBase"`
	PublicPath  string `yaml:"publicPath"`
	Hot         bool   `yaml:"hot"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
}

type filePlugin struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

type fileOptimization struct {
	SplitChunks fileSplitChunks `yaml:"splitChunks"`
}

type fileSplitChunks struct {
	CacheGroups yaml.Node `yaml:"cacheGroups"`
}

type fileCacheGroup struct {
	Name     string `yaml:"name"`
	Test     string `yaml:"test"`
	Chunks   string `yaml:"chunks"`
	Priority int    `yaml:"priority"`
}

var lineNumberPattern = regexp.MustCompile(`line (\d+)`)

// Load reads a build configuration from path. JSON documents are accepted as
// well since JSON is a subset of YAML.
func Load(path string) (*BuildConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigNotFoundError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("read build config: %w", err)
	}

	cfg, err := LoadBytes(path, data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBytes parses a build configuration from memory. name is used in error
// messages and recorded as the configuration's SourcePath.
func LoadBytes(name string, data []byte) (*BuildConfiguration, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigSyntaxError{Path: name, Line: lineFromError(err), Err: err}
	}

	var root *yaml.Node
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root = doc.Content[0]
	}
	if root == nil {
		return nil, &ConfigSchemaError{Path: name, Problems: []string{"entry: required", "output.path: required"}}
	}
	if root.Kind != yaml.MappingNode {
		return nil, &ConfigSyntaxError{
			Path: name,
			Line: root.Line,
			Err:  fmt.Errorf("document root must be a mapping, got %s", kindName(root)),
		}
	}

	if problems := checkRequired(root); len(problems) > 0 {
		return nil, &ConfigSchemaError{Path: name, Problems: problems}
	}

	var fc fileConfig
	if err := root.Decode(&fc); err != nil {
		var typeErr *yaml.TypeError
		if !errors.As(err, &typeErr) {
			return nil, &ConfigSyntaxError{Path: name, Line: lineFromError(err), Err: err}
		}
		return nil, &ConfigSchemaError{Path: name, Problems: typeErr.Errors}
	}

	cfg, problems := convert(&fc)
	if len(problems) > 0 {
		return nil, &ConfigSchemaError{Path: name, Problems: problems}
	}
	cfg.SourcePath = name
	return cfg, nil
}

// checkRequired reports absent or mistyped entry and output.path fields.
func checkRequired(root *yaml.Node) []string {
	var problems []string

	entry := lookup(root, "entry")
	switch {
	case entry == nil:
		problems = append(problems, "entry: required")
	case isString(entry), entry.Kind == yaml.MappingNode:
	default:
		problems = append(problems, fmt.Sprintf("entry: must be a string or a mapping of names to paths, got %s", kindName(entry)))
	}

	output := lookup(root, "output")
	switch {
	case output == nil:
		problems = append(problems, "output.path: required")
	case output.Kind != yaml.MappingNode:
		problems = append(problems, fmt.Sprintf("output: must be a mapping, got %s", kindName(output)))
	default:
		path := lookup(output, "path")
		switch {
		case path == nil:
			problems = append(problems, "output.path: required")
		case !isString(path):
			problems = append(problems, fmt.Sprintf("output.path: must be a string, got %s", kindName(path)))
		}
	}

	return problems
}

func convert(fc *fileConfig) (*BuildConfiguration, []string) {
	var problems []string

	cfg := &BuildConfiguration{
		Mode:             Mode(fc.Mode),
		OutputPath:       fc.Output.Path,
		OutputPublicPath: fc.Output.PublicPath,
		OutputFilename:   fc.Output.Filename,
		DevServer: DevServer{
			ContentBase: fc.DevServer.ContentBase,
			PublicPath:  fc.DevServer.PublicPath,
			Hot:         fc.DevServer.Hot,
			Host:        fc.DevServer.Host,
			Port:        fc.DevServer.Port,
		},
	}

	if isString(&fc.Entry) {
		cfg.EntryPoints = []EntryPoint{{Name: "main", Source: fc.Entry.Value}}
	} else {
		for i := 0; i+1 < len(fc.Entry.Content); i += 2 {
			key, value := fc.Entry.Content[i], fc.Entry.Content[i+1]
			if !isString(value) {
				problems = append(problems, fmt.Sprintf("entry.%s: must be a string, got %s", key.Value, kindName(value)))
				continue
			}
			cfg.EntryPoints = append(cfg.EntryPoints, EntryPoint{Name: key.Value, Source: value.Value})
		}
	}

	for i, r := range fc.Module.Rules {
		rule := TransformRule{Test: r.Test, Exclude: r.Exclude, Options: r.Options}
		switch {
		case r.Use.Kind == 0:
		case isString(&r.Use):
			rule.Use = r.Use.Value
		case r.Use.Kind == yaml.MappingNode:
			var loader fileLoader
			if err := r.Use.Decode(&loader); err != nil {
				problems = append(problems, fmt.Sprintf("module.rules[%d].use: %v", i, err))
				continue
			}
			rule.Use = loader.Loader
			if loader.Options != nil {
				rule.Options = loader.Options
			}
		default:
			problems = append(problems, fmt.Sprintf("module.rules[%d].use: must be a loader name or a {loader, options} mapping, got %s", i, kindName(&r.Use)))
			continue
		}
		cfg.Rules = append(cfg.Rules, rule)
	}

	for _, p := range fc.Plugins {
		cfg.Plugins = append(cfg.Plugins, Plugin{Name: p.Name, Params: p.Params})
	}

	groups := &fc.Optimization.SplitChunks.CacheGroups
	switch groups.Kind {
	case 0:
	case yaml.MappingNode:
		for i := 0; i+1 < len(groups.Content); i += 2 {
			key, value := groups.Content[i], groups.Content[i+1]
			var g fileCacheGroup
			if err := value.Decode(&g); err != nil {
				problems = append(problems, fmt.Sprintf("optimization.splitChunks.cacheGroups.%s: %v", key.Value, err))
				continue
			}
			cfg.CacheGroups = append(cfg.CacheGroups, CacheGroup{
				Key:      key.Value,
				Name:     g.Name,
				Test:     g.Test,
				Chunks:   g.Chunks,
				Priority: g.Priority,
			})
		}
	default:
		problems = append(problems, fmt.Sprintf("optimization.splitChunks.cacheGroups: must be a mapping, got %s", kindName(groups)))
	}

	return cfg, problems
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func isString(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!str"
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!int", "!!float":
			return "number"
		case "!!bool":
			return "boolean"
		case "!!null":
			return "null"
		}
		return "string"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}

func lineFromError(err error) int {
	m := lineNumberPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	line, _ := strconv.Atoi(m[1])
	return line
}
