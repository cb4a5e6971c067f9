// Package bundler drives the bundler engine with a resolved build
// configuration. The engine is esbuild, embedded as a library: entry points,
// output naming, transform rules, chunk splitting and plugins are mapped onto
// esbuild build options and plugins.
package bundler
