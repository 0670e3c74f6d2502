package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/anonymousaardvark/qi/pkg/gc"
	"github.com/anonymousaardvark/qi/pkg/vm"
)

type runCmd struct {
	trace bool
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run a Qi source file" }
func (*runCmd) Usage() string {
	return "run <file.qi>:\n  Compile and execute a Qi script.\n"
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.trace, "trace", false, "print each dispatched instruction and the stack before it runs")
}

func (r *runCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "run: no file specified")
		return subcommands.ExitUsageError
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return subcommands.ExitFailure
	}

	machine := vm.New(gc.New())
	if r.trace {
		machine.SetTracer(vm.NewTracer(os.Stderr))
	}

	if err := machine.Interpret(string(data)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := err.(vm.CompileErrors); ok {
			return subcommands.ExitUsageError
		}
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
