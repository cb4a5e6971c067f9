// Package devserver serves build output during development. Static files are
// served from the dev server content root under its public path, next to a
// small set of /__bundle endpoints: health, last build status, and a
// server-sent events stream that tells browsers to reload after a rebuild.
package devserver
