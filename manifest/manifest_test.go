package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/seqweave/pkg/synth"
	"github.com/google/go-cmp/cmp"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[module]
name = "Orders"

[helper]
namespace = "Acme.Equality"
type = "Sequences"
procedure = "Same"
left = "a"
right = "b"

[output]
image = "out/orders.wvm"
debug-info = false

[store]
path = "/var/cache/weave.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Module.Name != "Orders" {
		t.Errorf("module name = %q, want Orders", m.Module.Name)
	}
	if got := m.HelperName(); got != "Acme.Equality.Sequences::Same" {
		t.Errorf("HelperName = %q", got)
	}
	if got, want := m.ImagePath(), filepath.Join(m.Dir, "out", "orders.wvm"); got != want {
		t.Errorf("ImagePath = %q, want %q", got, want)
	}
	if got := m.StorePath(); got != "/var/cache/weave.db" {
		t.Errorf("StorePath = %q, want absolute path unchanged", got)
	}

	want := synth.Options{
		Namespace: "Acme.Equality",
		TypeName:  "Sequences",
		ProcName:  "Same",
		LeftName:  "a",
		RightName: "b",
		DebugInfo: false,
	}
	if diff := cmp.Diff(want, m.SynthOptions()); diff != "" {
		t.Errorf("SynthOptions mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[module]
name = "MyApp"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if diff := cmp.Diff(synth.DefaultOptions(), m.SynthOptions()); diff != "" {
		t.Errorf("SynthOptions mismatch (-want +got):\n%s", diff)
	}
	if m.Output.Image != "my_app.wvm" {
		t.Errorf("default image = %q, want my_app.wvm", m.Output.Image)
	}
	if got, want := m.StorePath(), filepath.Join(m.Dir, ".weave", "store.db"); got != want {
		t.Errorf("StorePath = %q, want %q", got, want)
	}
}

func TestDefault(t *testing.T) {
	m := Default("/tmp/proj")
	if m.Module.Name != "main" {
		t.Errorf("module name = %q, want main", m.Module.Name)
	}
	if m.HelperName() != "Equals.Helpers::SequenceEquals" {
		t.Errorf("HelperName = %q", m.HelperName())
	}
	if err := m.Validate(); err != nil {
		t.Errorf("default manifest invalid: %v", err)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errText string
	}{
		{"syntax", "[helper\n", "parse error"},
		{"unknown key", "[helper]\nflavour = \"x\"\n", "unknown key"},
		{"bad identifier", "[helper]\nprocedure = \"is-equal\"\n", "helper.procedure"},
		{"reserved type", "[helper]\ntype = \"Sequence\"\n", "built-in"},
		{"reserved namespace", "[helper]\nnamespace = \"Iterator.X\"\n", "helper.namespace"},
		{"same params", "[helper]\nleft = \"x\"\nright = \"x\"\n", "both"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("error %q does not mention %q", err, tt.errText)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for missing weave.toml")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[module]\nname = \"found\"\n")

	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Module.Name != "found" {
		t.Errorf("module name = %q, want found", m.Module.Name)
	}
}

func TestFindAndLoadNone(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil manifest, got %+v", m)
	}
}
