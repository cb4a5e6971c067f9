package buildconfig

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Violation codes reported by Validate.
const (
	CodeNoEntries           = "entry.missing"
	CodeEntryEmptyName      = "entry.empty_name"
	CodeEntryDuplicate      = "entry.duplicate"
	CodeEntryEmptyPath      = "entry.empty_path"
	CodeEntryNameEscapes    = "entry.name_escapes"
	CodeOutputPathEmpty     = "output.path_empty"
	CodeFilenamePlaceholder = "output.filename_placeholder"
	CodeFilenameExtension   = "output.filename_extension"
	CodeRuleTestInvalid     = "rule.test_invalid"
	CodeRuleExcludeInvalid  = "rule.exclude_invalid"
	CodeRuleUseEmpty        = "rule.use_empty"
	CodePluginEmptyName     = "plugin.empty_name"
	CodeCacheGroupEmptyName = "cache_group.empty_name"
	CodeCacheGroupDuplicate = "cache_group.duplicate"
	CodeCacheGroupTest      = "cache_group.test_invalid"
	CodeCacheGroupChunks    = "cache_group.chunks_invalid"
	CodeModeInvalid         = "mode.invalid"
	CodeDevServerPort       = "dev_server.port_invalid"
)

// Violation describes a single broken invariant.
type Violation struct {
	Field   string
	Code    string
	Message string
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// ValidationResult holds every violation found in a configuration. An empty
// result means the configuration is valid.
type ValidationResult struct {
	Violations []Violation
}

// Valid reports whether no violations were found.
func (r ValidationResult) Valid() bool {
	return len(r.Violations) == 0
}

// Has reports whether a violation with the given code was found.
func (r ValidationResult) Has(code string) bool {
	for _, v := range r.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// Err returns a *ConfigValidationError carrying all violations, or nil.
func (r ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	violations := make([]Violation, len(r.Violations))
	copy(violations, r.Violations)
	return &ConfigValidationError{Violations: violations}
}

func (r *ValidationResult) addf(field, code, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{
		Field:   field,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

// Validate checks cfg against the configuration invariants and returns all
// violations. It never fails.
func Validate(cfg *BuildConfiguration) ValidationResult {
	var result ValidationResult
	if cfg == nil {
		result.addf("entry", CodeNoEntries, "configuration is empty")
		return result
	}

	validateMode(cfg, &result)
	validateEntries(cfg, &result)
	validateOutput(cfg, &result)
	validateRules(cfg, &result)
	validateDevServer(cfg, &result)
	validatePlugins(cfg, &result)
	validateCacheGroups(cfg, &result)

	return result
}

func validateMode(cfg *BuildConfiguration, result *ValidationResult) {
	switch cfg.Mode {
	case "", ModeNone, ModeDevelopment, ModeProduction:
	default:
		result.addf("mode", CodeModeInvalid, "must be one of none, development, production (got %q)", cfg.Mode)
	}
}

func validateEntries(cfg *BuildConfiguration, result *ValidationResult) {
	if len(cfg.EntryPoints) == 0 {
		result.addf("entry", CodeNoEntries, "at least one entry point is required")
		return
	}

	seen := make(map[string]int, len(cfg.EntryPoints))
	for i, ep := range cfg.EntryPoints {
		field := fmt.Sprintf("entry[%d]", i)
		name := strings.TrimSpace(ep.Name)
		if name == "" {
			result.addf(field, CodeEntryEmptyName, "entry point name must not be empty")
		} else if first, ok := seen[name]; ok {
			result.addf("entry."+name, CodeEntryDuplicate, "entry point name %q already declared at position %d", name, first)
		} else {
			seen[name] = i
		}
		if name != "" && !filepath.IsLocal(filepath.FromSlash(ep.Name)) {
			result.addf("entry."+name, CodeEntryNameEscapes, "entry point name %q must stay inside the output directory", ep.Name)
		}
		if strings.TrimSpace(ep.Source) == "" {
			result.addf(field, CodeEntryEmptyPath, "entry point %q has no source path", ep.Name)
		}
	}
}

func validateOutput(cfg *BuildConfiguration, result *ValidationResult) {
	if strings.TrimSpace(cfg.OutputPath) == "" {
		result.addf("output.path", CodeOutputPathEmpty, "output path must not be empty")
	}

	if cfg.OutputFilename == "" {
		return
	}
	if n := strings.Count(cfg.OutputFilename, NamePlaceholder); n != 1 {
		result.addf("output.filename", CodeFilenamePlaceholder,
			"pattern %q must contain %s exactly once (found %d)", cfg.OutputFilename, NamePlaceholder, n)
		return
	}
	if FilenameExtension(cfg.OutputFilename) == "" {
		result.addf("output.filename", CodeFilenameExtension,
			"pattern %q must end in a file extension after %s", cfg.OutputFilename, NamePlaceholder)
	}
}

// FilenameExtension returns the extension shared by every file a pattern
// produces: the extension of the text after the name placeholder. It is empty
// when that text has none.
func FilenameExtension(pattern string) string {
	tail := pattern
	if i := strings.LastIndex(pattern, NamePlaceholder); i >= 0 {
		tail = pattern[i+len(NamePlaceholder):]
	}
	ext := filepath.Ext(tail)
	if len(ext) < 2 {
		return ""
	}
	return ext
}

func validateRules(cfg *BuildConfiguration, result *ValidationResult) {
	for i, rule := range cfg.Rules {
		field := fmt.Sprintf("module.rules[%d]", i)
		if rule.Test == "" {
			result.addf(field+".test", CodeRuleTestInvalid, "test pattern is required")
		} else if _, err := regexp.Compile(rule.Test); err != nil {
			result.addf(field+".test", CodeRuleTestInvalid, "invalid pattern: %v", err)
		}
		if rule.Exclude != "" {
			if _, err := regexp.Compile(rule.Exclude); err != nil {
				result.addf(field+".exclude", CodeRuleExcludeInvalid, "invalid pattern: %v", err)
			}
		}
		if strings.TrimSpace(rule.Use) == "" {
			result.addf(field+".use", CodeRuleUseEmpty, "transform tool is required")
		}
	}
}

func validateDevServer(cfg *BuildConfiguration, result *ValidationResult) {
	if cfg.DevServer.Port < 0 || cfg.DevServer.Port > 65535 {
		result.addf("devServer.port", CodeDevServerPort, "must be between 0 and 65535 (got %d)", cfg.DevServer.Port)
	}
}

func validatePlugins(cfg *BuildConfiguration, result *ValidationResult) {
	for i, p := range cfg.Plugins {
		if strings.TrimSpace(p.Name) == "" {
			result.addf(fmt.Sprintf("plugins[%d]", i), CodePluginEmptyName, "plugin name must not be empty")
		}
	}
}

func validateCacheGroups(cfg *BuildConfiguration, result *ValidationResult) {
	seen := make(map[string]struct{}, len(cfg.CacheGroups))
	for i, g := range cfg.CacheGroups {
		field := "optimization.splitChunks.cacheGroups." + g.Key
		key := strings.TrimSpace(g.Key)
		if key == "" {
			field = fmt.Sprintf("optimization.splitChunks.cacheGroups[%d]", i)
			result.addf(field, CodeCacheGroupEmptyName, "cache group name must not be empty")
		} else if _, ok := seen[key]; ok {
			result.addf(field, CodeCacheGroupDuplicate, "cache group %q declared more than once", key)
		} else {
			seen[key] = struct{}{}
		}

		if g.Test != "" {
			if _, err := regexp.Compile(g.Test); err != nil {
				result.addf(field+".test", CodeCacheGroupTest, "invalid pattern: %v", err)
			}
		}

		switch g.Chunks {
		case "", ChunksAll, ChunksAsync, ChunksInitial:
		default:
			result.addf(field+".chunks", CodeCacheGroupChunks, "must be one of all, async, initial (got %q)", g.Chunks)
		}
	}
}
