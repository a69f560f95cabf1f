// Package manifest handles weave.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/seqweave/pkg/synth"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "weave.toml"

// Manifest represents a weave.toml configuration.
type Manifest struct {
	Module ModuleConfig `toml:"module"`
	Helper Helper       `toml:"helper"`
	Output Output       `toml:"output"`
	Store  StoreConfig  `toml:"store"`

	// Dir is the directory containing the weave.toml file (set at load time).
	Dir string `toml:"-"`
}

// ModuleConfig names the target module.
type ModuleConfig struct {
	Name string `toml:"name"`
}

// Helper names the synthesized type and procedure.
type Helper struct {
	Namespace string `toml:"namespace"`
	Type      string `toml:"type"`
	Procedure string `toml:"procedure"`
	Left      string `toml:"left"`
	Right     string `toml:"right"`
}

// Output configures the written module image.
type Output struct {
	Image     string `toml:"image"`
	DebugInfo *bool  `toml:"debug-info"`
}

// StoreConfig configures the image cache.
type StoreConfig struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

// Default returns the configuration used when no weave.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses a weave.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a weave.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) applyDefaults() {
	d := synth.DefaultOptions()
	if m.Module.Name == "" {
		m.Module.Name = "main"
	}
	if m.Helper.Namespace == "" {
		m.Helper.Namespace = d.Namespace
	}
	if m.Helper.Type == "" {
		m.Helper.Type = d.TypeName
	}
	if m.Helper.Procedure == "" {
		m.Helper.Procedure = d.ProcName
	}
	if m.Helper.Left == "" {
		m.Helper.Left = d.LeftName
	}
	if m.Helper.Right == "" {
		m.Helper.Right = d.RightName
	}
	if m.Output.Image == "" {
		m.Output.Image = ToSnakeCase(m.Module.Name) + ".wvm"
	}
	if m.Output.DebugInfo == nil {
		debug := d.DebugInfo
		m.Output.DebugInfo = &debug
	}
	if m.Store.Path == "" {
		m.Store.Path = filepath.Join(".weave", "store.db")
	}
}

// Validate checks that every configured name is usable.
func (m *Manifest) Validate() error {
	if err := ValidateNamespace(m.Helper.Namespace); err != nil {
		return fmt.Errorf("helper.namespace: %w", err)
	}
	for _, f := range []struct{ key, value string }{
		{"helper.type", m.Helper.Type},
		{"helper.procedure", m.Helper.Procedure},
		{"helper.left", m.Helper.Left},
		{"helper.right", m.Helper.Right},
	} {
		if err := ValidateIdentifier(f.value); err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
	}
	if IsReservedName(m.Helper.Type) {
		return fmt.Errorf("helper.type: %q is a built-in type name", m.Helper.Type)
	}
	if m.Helper.Left == m.Helper.Right {
		return fmt.Errorf("helper.left and helper.right are both %q", m.Helper.Left)
	}
	return nil
}

// SynthOptions converts the helper and output sections into synthesizer
// options.
func (m *Manifest) SynthOptions() synth.Options {
	opts := synth.Options{
		Namespace: m.Helper.Namespace,
		TypeName:  m.Helper.Type,
		ProcName:  m.Helper.Procedure,
		LeftName:  m.Helper.Left,
		RightName: m.Helper.Right,
		DebugInfo: true,
	}
	if m.Output.DebugInfo != nil {
		opts.DebugInfo = *m.Output.DebugInfo
	}
	return opts
}

// HelperName returns the stable name of the synthesized procedure.
func (m *Manifest) HelperName() string {
	return m.Helper.Namespace + "." + m.Helper.Type + "::" + m.Helper.Procedure
}

// ImagePath returns the absolute output image path.
func (m *Manifest) ImagePath() string {
	return m.resolve(m.Output.Image)
}

// StorePath returns the absolute path of the image cache database.
func (m *Manifest) StorePath() string {
	return m.resolve(m.Store.Path)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
