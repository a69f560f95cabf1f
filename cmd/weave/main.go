// Weave CLI - synthesizes the sequence equality helper into module images
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("weave")

// errUsage marks errors caused by bad arguments; run prints usage for them.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("weave", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Int("v", 0, "Log verbosity (0 notices, 1 info, 2 debug)")
	dir := fs.String("C", ".", "Directory to search for weave.toml; relative paths resolve against it")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: weave [options] <command> [args]\n\n")
		fmt.Fprintf(stderr, "Synthesizes a SequenceEquals helper into a bytecode module.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nCommands:\n")
		fmt.Fprintf(stderr, "  synth [-in image] [-o image] [-no-store]  Inject the helper and write the image\n")
		fmt.Fprintf(stderr, "  disasm [-proc name] image                   Disassemble every procedure\n")
		fmt.Fprintf(stderr, "  check image                                 Verify bodies and run the helper self-test\n")
		fmt.Fprintf(stderr, "  store list                                  List cached images\n")
		fmt.Fprintf(stderr, "  store get [-o image] digest                 Extract a cached image\n")
		fmt.Fprintf(stderr, "  store rm digest                             Remove a cached image\n")
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  weave synth                      # uses ./weave.toml or defaults\n")
		fmt.Fprintf(stderr, "  weave synth -in app.wvm -o app.wvm\n")
		fmt.Fprintf(stderr, "  weave -v 2 disasm main.wvm\n")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	commonlog.Configure(*verbose, nil)

	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch cmd {
	case "synth":
		err = handleSynthCommand(rest, *dir, stdout, stderr)
	case "disasm":
		err = handleDisasmCommand(rest, *dir, stdout, stderr)
	case "check":
		err = handleCheckCommand(rest, *dir, stdout, stderr)
	case "store":
		err = handleStoreCommand(rest, *dir, stdout, stderr)
	default:
		err = fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		return 1
	}
	return 0
}

// resolvePath interprets a relative path as relative to the -C directory.
func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
