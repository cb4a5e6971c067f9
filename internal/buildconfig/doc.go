// Package buildconfig loads, validates and resolves the declarative build
// configuration handed to the bundler engine. A configuration describes entry
// points, the output location and filename pattern, transform rules, the
// development server, plugins and the chunk-splitting policy.
//
// The package performs no bundling. Load parses a file, Validate reports every
// invariant violation at once, and Resolve produces an immutable
// ResolvedConfiguration with absolute paths and per-entry output names.
package buildconfig
