package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGraphFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write graph file: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	path := writeGraphFile(t, `
id: demo
nodes:
  - id: a
    model: m1
  - id: b
    model: m2
edges:
  - id: e1
    source: a
    target: b
`)

	out, err := runCommand(t, "validate", path)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 nodes in 2 levels") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "level 0: [a]") || !strings.Contains(out, "level 1: [b]") {
		t.Fatalf("levels missing from output:\n%s", out)
	}
}

func TestValidateCommandRejectsCycle(t *testing.T) {
	path := writeGraphFile(t, `
id: cyclic
nodes:
  - id: a
    model: m1
  - id: b
    model: m2
edges:
  - id: e1
    source: a
    target: b
  - id: e2
    source: b
    target: a
`)

	out, err := runCommand(t, "validate", path)
	if err == nil {
		t.Fatalf("cycle accepted:\n%s", out)
	}
	if !strings.Contains(err.Error(), "graph_cycle") {
		t.Fatalf("error = %v", err)
	}
}

func TestValidateCommandMissingID(t *testing.T) {
	path := writeGraphFile(t, "nodes: []\n")
	if _, err := runCommand(t, "validate", path); err == nil {
		t.Fatal("graph without id accepted")
	}
}
