// Package config loads the launcher's own runtime settings from multiple
// sources (a YAML settings file, environment variables, CLI flags) with
// precedence: CLI flags > YAML settings > Environment variables > Defaults.
// The build configuration consumed by the bundler lives in package
// buildconfig; this package only decides where to find it and how the
// launcher itself behaves.
package config
