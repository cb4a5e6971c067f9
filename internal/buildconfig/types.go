package buildconfig

// NamePlaceholder is substituted with the bundle name in output filenames.
const NamePlaceholder = "[name]"

// Mode selects the optimisation profile of a build.
type Mode string

const (
	ModeNone        Mode = "none"
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// Chunk scopes accepted by cache groups.
const (
	ChunksAll     = "all"
	ChunksAsync   = "async"
	ChunksInitial = "initial"
)

// EntryPoint names a source file the bundler starts traversal from.
type EntryPoint struct {
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source" yaml:"source"`
}

// TransformRule maps files matching Test (and not matching Exclude) to the
// transform tool named by Use.
type TransformRule struct {
	Test    string         `json:"test" yaml:"test"`
	Exclude string         `json:"exclude" yaml:"exclude"`
	Use     string         `json:"use" yaml:"use"`
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// DevServer holds development server settings.
type DevServer struct {
	ContentBase string
	PublicPath  string
	Hot         bool
	Host        string
	Port        int
}

// Plugin is a tagged plugin descriptor. Params are opaque to this package.
type Plugin struct {
	Name   string         `json:"name" yaml:"name"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// CacheGroup is a named chunk grouping rule. Key is the group identifier as
// declared; Name is the emitted chunk name and defaults to Key.
type CacheGroup struct {
	Key      string `json:"key" yaml:"key"`
	Name     string `json:"name" yaml:"name"`
	Test     string `json:"test" yaml:"test"`
	Chunks   string `json:"chunks" yaml:"chunks"`
	Priority int    `json:"priority" yaml:"priority"`
}

// BuildConfiguration is the parsed, unresolved build description.
type BuildConfiguration struct {
	// SourcePath is the file the configuration was loaded from, if any.
	SourcePath string

	Mode             Mode
	EntryPoints      []EntryPoint
	OutputPath       string
	OutputPublicPath string
	OutputFilename   string
	Rules            []TransformRule
	DevServer        DevServer
	Plugins          []Plugin
	CacheGroups      []CacheGroup
}
