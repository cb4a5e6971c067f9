package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eugenenazirov/bundle-launcher/internal/buildconfig"
)

const validProject = `mode: none
entry:
  main: ./index.js
output:
  path: dist
  publicPath: /
  filename: "[name].js"
module:
  rules:
    - test: '\.(js|jsx)$'
      exclude: '(node_modules|bower_components)'
      use: babel-loader
plugins:
  - name: html-webpack-plugin
`

const invalidProject = `entry:
  main: ""
output:
  path: dist
  filename: bundle.js
module:
  rules:
    - test: '('
      use: babel-loader
`

func writeProject(t *testing.T, config string) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"webpack.yaml": config,
		"index.js":     "console.log('launcher');\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return root
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestValidateCommand(t *testing.T) {
	root := writeProject(t, validProject)

	code, stdout, stderr := runCLI(t, "--config", filepath.Join(root, "webpack.yaml"), "validate")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "configuration is valid") {
		t.Fatalf("unexpected output %q", stdout)
	}
}

func TestValidateCommandReportsEveryViolation(t *testing.T) {
	root := writeProject(t, invalidProject)

	code, _, stderr := runCLI(t, "--config", filepath.Join(root, "webpack.yaml"), "validate")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	for _, want := range []string{"3 violation(s)", buildconfig.CodeEntryEmptyPath, buildconfig.CodeFilenamePlaceholder, buildconfig.CodeRuleTestInvalid} {
		if !strings.Contains(stderr, want) {
			t.Fatalf("expected %q in output:\n%s", want, stderr)
		}
	}
}

func TestValidateCommandMissingConfig(t *testing.T) {
	code, _, stderr := runCLI(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "validate")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "missing.yaml") {
		t.Fatalf("expected path in error, got %q", stderr)
	}
}

func TestResolveCommandJSON(t *testing.T) {
	root := writeProject(t, validProject)

	code, stdout, stderr := runCLI(t, "--config", filepath.Join(root, "webpack.yaml"), "--mode", "development", "resolve", "--format", "json")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}

	var resolved struct {
		Mode    string `json:"mode"`
		Entries []struct {
			Name       string `json:"name"`
			OutputFile string `json:"outputFile"`
			PublicURL  string `json:"publicURL"`
		} `json:"entries"`
		Rules []struct {
			Use string `json:"use"`
		} `json:"rules"`
	}
	if err := json.Unmarshal([]byte(stdout), &resolved); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout)
	}
	if resolved.Mode != "development" {
		t.Fatalf("expected mode override, got %s", resolved.Mode)
	}
	if len(resolved.Entries) != 1 || resolved.Entries[0].OutputFile != filepath.Join(root, "dist", "main.js") {
		t.Fatalf("unexpected entries %+v", resolved.Entries)
	}
	if resolved.Entries[0].PublicURL != "/main.js" {
		t.Fatalf("unexpected public URL %s", resolved.Entries[0].PublicURL)
	}
	if len(resolved.Rules) != 1 || resolved.Rules[0].Use != "babel-loader" {
		t.Fatalf("unexpected rules %+v", resolved.Rules)
	}
}

func TestResolveCommandWritesFile(t *testing.T) {
	root := writeProject(t, validProject)
	out := filepath.Join(root, "out", "resolved.yaml")

	code, stdout, stderr := runCLI(t, "--config", filepath.Join(root, "webpack.yaml"), "resolve", "--out", out)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, out) {
		t.Fatalf("expected output path to be reported, got %q", stdout)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read resolved file: %v", err)
	}
	if !strings.Contains(string(data), "filenamePattern:") || !strings.Contains(string(data), "[name].js") {
		t.Fatalf("unexpected resolved YAML:\n%s", data)
	}
}

func TestBuildCommand(t *testing.T) {
	root := writeProject(t, validProject)

	code, stdout, stderr := runCLI(t, "--config", filepath.Join(root, "webpack.yaml"), "--log-level", "error", "--log-format", "console", "build")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, filepath.Join("dist", "main.js")) {
		t.Fatalf("expected built file in output, got %q", stdout)
	}
	for _, name := range []string{"main.js", "index.html"} {
		if _, err := os.Stat(filepath.Join(root, "dist", name)); err != nil {
			t.Fatalf("expected %s to be emitted: %v", name, err)
		}
	}
}

func TestRejectsUnknownCommand(t *testing.T) {
	if code, _, _ := runCLI(t, "deploy"); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}
