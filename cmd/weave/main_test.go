package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/seqweave/pkg/module"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// runCLI runs the CLI and returns its exit code and output streams.
func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// writeConfig writes a weave.toml into dir that keeps the store inside dir.
func writeConfig(t *testing.T, dir, extra string) {
	t.Helper()
	content := "[module]\nname = \"orders\"\n\n[store]\npath = \"cache.db\"\n" + extra
	if err := os.WriteFile(filepath.Join(dir, "weave.toml"), []byte(content), 0644); err != nil {
		t.Fatalf("writing weave.toml: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSynthWritesImage(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")

	code, stdout, stderr := runCLI(t, "-C", dir, "synth")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Equals.Helpers::SequenceEquals") {
		t.Errorf("stdout missing helper name: %q", stdout)
	}

	m, err := module.ReadFile(filepath.Join(dir, "orders.wvm"))
	if err != nil {
		t.Fatalf("reading image: %v", err)
	}
	if _, ok := m.Lookup("Equals.Helpers::SequenceEquals"); !ok {
		t.Error("image has no helper")
	}
	if _, err := os.Stat(filepath.Join(dir, "cache.db")); err != nil {
		t.Errorf("store not created: %v", err)
	}
}

func TestSynthIntoExistingImage(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[helper]\nnamespace = \"Acme\"\ntype = \"Seq\"\n")

	existing := module.New("app")
	in := filepath.Join(dir, "app.wvm")
	if err := module.WriteFile(in, existing); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out", "app.wvm")

	code, _, stderr := runCLI(t, "-C", dir, "synth", "-in", in, "-o", out, "-no-store")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}

	m, err := module.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if m.MVID != existing.MVID {
		t.Error("injection replaced the module identity")
	}
	if _, ok := m.Lookup("Acme.Seq::SequenceEquals"); !ok {
		t.Error("image has no helper")
	}

	// A second injection into the same image must fail and leave it intact.
	code, _, stderr = runCLI(t, "-C", dir, "synth", "-in", out, "-o", out, "-no-store")
	if code != 1 {
		t.Errorf("second synth exit = %d, want 1", code)
	}
	if !strings.Contains(stderr, "duplicate type") {
		t.Errorf("stderr = %q, want duplicate type", stderr)
	}
}

func TestDisasmAndCheck(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")
	if code, _, stderr := runCLI(t, "-C", dir, "synth", "-no-store"); code != 0 {
		t.Fatalf("synth exit %d: %s", code, stderr)
	}
	image := filepath.Join(dir, "orders.wvm")

	code, stdout, stderr := runCLI(t, "disasm", image)
	if code != 0 {
		t.Fatalf("disasm exit %d: %s", code, stderr)
	}
	for _, want := range []string{"Iterator.MoveNext", "JUMP_FALSE", "leftIterator", "RETURN"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("disasm output missing %q", want)
		}
	}

	code, stdout, stderr = runCLI(t, "check", image)
	if code != 0 {
		t.Fatalf("check exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "ok   Equals.Helpers::SequenceEquals") {
		t.Errorf("check output = %q", stdout)
	}

	if code, _, _ := runCLI(t, "disasm", "-proc", "No.Such::Thing", image); code != 1 {
		t.Errorf("disasm of unknown procedure exit = %d, want 1", code)
	}
}

func TestStoreCommands(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")

	code, stdout, stderr := runCLI(t, "-C", dir, "synth")
	if code != 0 {
		t.Fatalf("synth exit %d: %s", code, stderr)
	}
	var digest string
	for _, line := range strings.Split(stdout, "\n") {
		if d, ok := strings.CutPrefix(line, "digest "); ok {
			digest = d
		}
	}
	if len(digest) != 64 {
		t.Fatalf("no digest in output %q", stdout)
	}

	code, stdout, _ = runCLI(t, "-C", dir, "store", "list")
	if code != 0 || !strings.Contains(stdout, digest[:16]) {
		t.Errorf("store list exit %d, output %q", code, stdout)
	}

	out := filepath.Join(dir, "copy.wvm")
	if code, _, stderr := runCLI(t, "-C", dir, "store", "get", "-o", out, digest); code != 0 {
		t.Fatalf("store get exit %d: %s", code, stderr)
	}
	if _, err := module.ReadFile(out); err != nil {
		t.Errorf("extracted image unreadable: %v", err)
	}

	if code, _, stderr := runCLI(t, "-C", dir, "store", "rm", digest); code != 0 {
		t.Fatalf("store rm exit %d: %s", code, stderr)
	}
	if code, _, _ := runCLI(t, "-C", dir, "store", "get", digest); code != 1 {
		t.Errorf("store get after rm exit = %d, want 1", code)
	}
}

func TestRelativePathsFollowDir(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")
	if err := module.WriteFile(filepath.Join(dir, "app.wvm"), module.New("app")); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := runCLI(t, "-C", dir, "synth", "-in", "app.wvm", "-o", "out/app.wvm")
	if code != 0 {
		t.Fatalf("synth exit %d: %s", code, stderr)
	}
	if _, err := module.ReadFile(filepath.Join(dir, "out", "app.wvm")); err != nil {
		t.Fatalf("image not written under -C: %v", err)
	}

	if code, _, stderr := runCLI(t, "-C", dir, "disasm", "out/app.wvm"); code != 0 {
		t.Errorf("disasm exit %d: %s", code, stderr)
	}
	if code, _, stderr := runCLI(t, "-C", dir, "check", "out/app.wvm"); code != 0 {
		t.Errorf("check exit %d: %s", code, stderr)
	}

	var digest string
	for _, line := range strings.Split(stdout, "\n") {
		if d, ok := strings.CutPrefix(line, "digest "); ok {
			digest = d
		}
	}
	if code, _, stderr := runCLI(t, "-C", dir, "store", "get", "-o", "copy.wvm", digest); code != 0 {
		t.Fatalf("store get exit %d: %s", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "copy.wvm")); err != nil {
		t.Errorf("store get did not write under -C: %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := [][]string{
		{},
		{"frobnicate"},
		{"check"},
		{"store"},
	}
	for _, args := range tests {
		code, _, stderr := runCLI(t, args...)
		if code != 2 {
			t.Errorf("weave %v exit = %d, want 2", args, code)
		}
		if !strings.Contains(stderr, "Usage: weave") {
			t.Errorf("weave %v did not print usage", args)
		}
	}
}
