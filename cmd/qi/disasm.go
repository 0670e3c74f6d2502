package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/anonymousaardvark/qi/pkg/compiler"
	"github.com/anonymousaardvark/qi/pkg/gc"
	"github.com/anonymousaardvark/qi/pkg/value"
)

type disasmCmd struct{}

func (*disasmCmd) Name() string     { return "disasm" }
func (*disasmCmd) Synopsis() string { return "compile a Qi file and print its bytecode" }
func (*disasmCmd) Usage() string {
	return "disasm <file.qi>:\n  Compile without running and dump the opcode stream.\n"
}
func (*disasmCmd) SetFlags(f *flag.FlagSet) {}

func (*disasmCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "disasm: no file specified")
		return subcommands.ExitUsageError
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "disasm: %v\n", err)
		return subcommands.ExitFailure
	}

	fn, errs := compiler.New(gc.New()).Compile(string(data))
	if errs != nil {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		return subcommands.ExitUsageError
	}

	printChunk(fn, "脚本")
	return subcommands.ExitSuccess
}

// printChunk disassembles fn's chunk and recurses into every nested
// function held in its constant pool, so one `disasm` call shows the
// whole call tree a script compiles to.
func printChunk(fn *value.ObjFunction, name string) {
	fmt.Print(fn.Chunk.Disassemble(name))
	for _, c := range fn.Chunk.Constants {
		if nested, ok := c.Obj.(*value.ObjFunction); ok {
			nestedName := "<匿名函数>"
			if nested.Name != nil {
				nestedName = nested.Name.Chars
			}
			fmt.Println()
			printChunk(nested, nestedName)
		}
	}
}
