package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/chazu/seqweave/manifest"
	"github.com/chazu/seqweave/pkg/module"
	"github.com/chazu/seqweave/pkg/synth"
	"github.com/chazu/seqweave/store"
)

// loadManifest finds weave.toml from dir, falling back to defaults.
func loadManifest(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		log.Infof("no %s found, using defaults", manifest.FileName)
		return manifest.Default(dir), nil
	}
	log.Infof("loaded %s from %s", manifest.FileName, m.Dir)
	return m, nil
}

// handleSynthCommand processes the `weave synth` subcommand.
// Usage:
//
//	weave synth                        # new module named by weave.toml
//	weave synth -in app.wvm -o out.wvm # inject into an existing image
func handleSynthCommand(args []string, dir string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("synth", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "", "Existing module image to inject into")
	out := fs.String("o", "", "Output image path (default from weave.toml)")
	noStore := fs.Bool("no-store", false, "Do not cache the image")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: synth takes no positional arguments", errUsage)
	}

	cfg, err := loadManifest(dir)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	var target *module.Module
	if *in != "" {
		target, err = module.ReadFile(resolvePath(dir, *in))
		if err != nil {
			return err
		}
	} else {
		target = module.New(cfg.Module.Name)
	}

	proc, err := synth.Inject(target, cfg.SynthOptions())
	if err != nil {
		return err
	}

	path := resolvePath(dir, *out)
	if path == "" {
		path = cfg.ImagePath()
	}
	if err := module.WriteFile(path, target); err != nil {
		return err
	}

	digest, err := module.Digest(target)
	if err != nil {
		return err
	}
	if !*noStore && !cfg.Store.Disabled {
		ctx := context.Background()
		s, err := store.Open(ctx, cfg.StorePath())
		if err != nil {
			return err
		}
		defer s.Close()
		if _, err := s.Put(ctx, target); err != nil {
			return err
		}
	}

	fmt.Fprintf(stdout, "%s -> %s\n", proc.FullName(), path)
	fmt.Fprintf(stdout, "digest %s\n", digest)
	return nil
}
