// Command dsosharp decompiles a single compiled TorqueScript (DSO) file
// back to TorqueScript source text.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Electrk/dso-sharp/internal/ast"
	"github.com/Electrk/dso-sharp/internal/cfg"
	"github.com/Electrk/dso-sharp/internal/disasm"
	"github.com/Electrk/dso-sharp/internal/loader"
	"github.com/Electrk/dso-sharp/internal/printer"
	"github.com/Electrk/dso-sharp/internal/structural"
)

// dbg logs CLI trace messages with a "dsosharp:" prefix.
var dbg = log.New(os.Stderr, term.MagentaBold("dsosharp:")+" ", 0)

// Exit codes per §6: 0 success, 1 file error, 2 disassembly error, 3
// structural error.
const (
	exitOK = iota
	exitFileError
	exitDisasmError
	exitStructuralError
)

var (
	outPath     string
	versionHint uint32
	dumpInstrs  bool
	dumpCFG     bool
	dumpRegions bool
	dumpAST     bool
	debugStack  bool
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if debugStack {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompile <input.dso>",
		Short: "Decompile a DSO bytecode file back to TorqueScript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default: stdout)")
	cmd.Flags().Uint32Var(&versionHint, "version", loader.CurrentVersion, "expected DSO container version")
	cmd.Flags().BoolVar(&dumpInstrs, "dump-instructions", false, "dump the disassembled instruction stream")
	cmd.Flags().BoolVar(&dumpCFG, "dump-cfg", false, "dump each CFG's block graph")
	cmd.Flags().BoolVar(&dumpRegions, "dump-regions", false, "dump the reduced virtual region tree")
	cmd.Flags().BoolVar(&dumpAST, "dump-ast", false, "dump the lifted AST")
	cmd.Flags().BoolVar(&debugStack, "debug", false, "print a full error stack trace on failure")
	return cmd
}

// stageError tags an error with the pipeline stage that produced it, so
// exitCodeFor can map it to §6's exit code without re-inspecting sentinel
// types at the top level.
type stageError struct {
	code int
	err  error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var se *stageError
	if errors.As(err, &se) {
		return se.code
	}
	return exitFileError
}

func run(path string) error {
	dbg.Printf("run(%s)", path)

	file, err := loader.LoadFile(path)
	if err != nil {
		return &stageError{exitFileError, err}
	}
	if versionHint != 0 && file.Version != versionHint {
		dbg.Printf("version mismatch: file is %d, expected %d", file.Version, versionHint)
	}

	disassembly, err := disasm.Disassemble(file)
	if err != nil {
		return &stageError{exitDisasmError, err}
	}
	if dumpInstrs {
		dumpPretty("instructions", disassembly)
	}

	cfgs, err := cfg.Build(disassembly)
	if err != nil {
		return &stageError{exitStructuralError, err}
	}
	if dumpCFG {
		dumpPretty("cfg", cfgs)
	}

	var out []ast.Stmt
	for _, c := range cfgs {
		vr, err := structural.Analyze(c)
		if err != nil {
			return &stageError{exitStructuralError, err}
		}
		if dumpRegions {
			dumpPretty("region", vr)
		}
		stmts, err := ast.Lift(vr)
		if err != nil {
			return &stageError{exitStructuralError, errors.WithStack(err)}
		}
		out = append(out, stmts...)
	}
	if dumpAST {
		dumpPretty("ast", out)
	}

	text := printer.Print(out)

	if outPath == "" {
		fmt.Print(text)
		return nil
	}
	if err := os.WriteFile(outPath, []byte(text), 0o644); err != nil {
		return &stageError{exitFileError, errors.WithStack(err)}
	}
	return nil
}
