package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/google/subcommands"

	"github.com/anonymousaardvark/qi/pkg/gc"
	"github.com/anonymousaardvark/qi/pkg/vm"
)

type replCmd struct{}

func (*replCmd) Name() string     { return "repl" }
func (*replCmd) Synopsis() string { return "start an interactive Qi session" }
func (*replCmd) Usage() string {
	return "repl:\n  Start an interactive Qi session. Globals persist across inputs.\n"
}
func (*replCmd) SetFlags(f *flag.FlagSet) {}

func (*replCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rl, err := readline.New("qi> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "repl: %v\n", err)
		return subcommands.ExitFailure
	}
	defer rl.Close()

	fmt.Println("Qi REPL. Ctrl-D to exit.")

	// One VM lives for the whole session, so 变量 declared at the top
	// level in one line are still visible in the next (each line
	// compiles as its own top-level script, but they share globals).
	machine := vm.New(gc.New())
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return subcommands.ExitSuccess
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "repl: %v\n", err)
			return subcommands.ExitFailure
		}
		if line == "" {
			continue
		}
		if err := machine.Interpret(line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}
