package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/chazu/seqweave/pkg/module"
	"github.com/chazu/seqweave/store"
)

// handleStoreCommand processes the `weave store` subcommands.
// Usage:
//
//	weave store list
//	weave store get -o out.wvm <digest>
//	weave store rm <digest>
func handleStoreCommand(args []string, dir string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: store requires list, get or rm", errUsage)
	}

	cfg, err := loadManifest(dir)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	ctx := context.Background()
	s, err := store.Open(ctx, cfg.StorePath())
	if err != nil {
		return err
	}
	defer s.Close()

	switch args[0] {
	case "list":
		entries, err := s.List(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(stdout, "%s  %-20s %6d  %s\n", e.Digest[:16], e.Name, e.Size, e.Created.Format("2006-01-02 15:04:05"))
		}
		return nil

	case "get":
		fs := flag.NewFlagSet("store get", flag.ContinueOnError)
		fs.SetOutput(stderr)
		out := fs.String("o", "", "Output image path (default <digest>.wvm)")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("%w: store get takes one digest", errUsage)
		}
		digest := fs.Arg(0)
		m, err := s.Get(ctx, digest)
		if err != nil {
			return err
		}
		path := *out
		if path == "" {
			path = digest + ".wvm"
		}
		path = resolvePath(dir, path)
		if err := module.WriteFile(path, m); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s -> %s\n", m.Name, path)
		return nil

	case "rm":
		if len(args) != 2 {
			return fmt.Errorf("%w: store rm takes one digest", errUsage)
		}
		return s.Delete(ctx, args[1])

	default:
		return fmt.Errorf("%w: unknown store command %q", errUsage, args[0])
	}
}
