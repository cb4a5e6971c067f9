// Package application wires the launcher together. It loads and resolves the
// build configuration, owns the bundler engine, the build store and the dev
// server, and keeps the main package focused on CLI parsing.
package application
