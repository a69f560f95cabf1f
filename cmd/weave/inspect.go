package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/chazu/seqweave/pkg/asm"
	"github.com/chazu/seqweave/pkg/module"
	"github.com/chazu/seqweave/pkg/runtime"
)

func readImageArg(fs *flag.FlagSet, dir string) (*module.Module, error) {
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("%w: %s takes exactly one image path", errUsage, fs.Name())
	}
	return module.ReadFile(resolvePath(dir, fs.Arg(0)))
}

// handleDisasmCommand processes the `weave disasm` subcommand.
func handleDisasmCommand(args []string, dir string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("disasm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	only := fs.String("proc", "", "Only disassemble this procedure (Namespace.Type::Name)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	m, err := readImageArg(fs, dir)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "; module %s (%s)\n", m.Name, m.MVID)
	found := false
	for _, p := range m.Procedures() {
		if *only != "" && p.FullName() != *only {
			continue
		}
		found = true
		fmt.Fprintln(stdout)
		fmt.Fprint(stdout, p.Body.DisassembleWithName(p.FullName()))
	}
	if *only != "" && !found {
		return fmt.Errorf("%s: %w", *only, runtime.ErrNotFound)
	}
	return nil
}

// selfTest lists the inputs every SequenceEquals implementation must agree on.
var selfTest = []struct {
	name        string
	left, right any
	want        bool
}{
	{"empty", runtime.Slice[int](), runtime.Slice[int](), true},
	{"equal", runtime.Slice(1, 2, 3), runtime.Slice(1, 2, 3), true},
	{"differ", runtime.Slice(1, 2, 3), runtime.Slice(1, 2, 4), false},
	{"shorter", runtime.Slice(1, 2), runtime.Slice(1, 2, 3), false},
	{"null", nil, nil, true},
	{"one null", runtime.Slice(1), nil, false},
}

// handleCheckCommand processes the `weave check` subcommand. Every body is
// lifted back out of its encoding and re-verified; binary predicates are
// also run against the self-test table.
func handleCheckCommand(args []string, dir string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	m, err := readImageArg(fs, dir)
	if err != nil {
		return err
	}

	for _, p := range m.Procedures() {
		prog, err := asm.Decode(p.Body)
		if err != nil {
			return fmt.Errorf("%s: %w", p.FullName(), err)
		}
		if err := prog.Verify(asm.Frame{Params: len(p.Params), Locals: len(p.Locals)}); err != nil {
			return fmt.Errorf("%s: %w", p.FullName(), err)
		}

		inv, err := runtime.Bind(p, nil)
		if err != nil {
			log.Debugf("skipping self-test for %s: %v", p.FullName(), err)
			fmt.Fprintf(stdout, "ok   %s (verified)\n", p.FullName())
			continue
		}
		for _, tc := range selfTest {
			got, err := inv.Invoke(tc.left, tc.right)
			if err != nil {
				return fmt.Errorf("%s: %s: %w", p.FullName(), tc.name, err)
			}
			if got != tc.want {
				return fmt.Errorf("%s: %s: got %v, want %v", p.FullName(), tc.name, got, tc.want)
			}
		}
		fmt.Fprintf(stdout, "ok   %s (verified, %d cases)\n", p.FullName(), len(selfTest))
	}
	return nil
}
