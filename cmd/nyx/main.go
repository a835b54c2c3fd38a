package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/kristofer/nyx/pkg/engine"
	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		runREPL()
		return
	}

	switch os.Args[1] {
	case "-v", "--version", "version":
		fmt.Printf("nyx version %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	case "-e":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: -e requires a code argument")
			os.Exit(1)
		}
		runSource(os.Args[2])
	default:
		runFile(os.Args[1])
	}
}

func printUsage() {
	fmt.Println("nyx - a self-contained JavaScript execution engine")
	fmt.Println("\nUsage:")
	fmt.Println("  nyx                  Start interactive REPL")
	fmt.Println("  nyx path/to/file.js  Evaluate a file")
	fmt.Println("  nyx -e \"code\"        Evaluate a single expression")
	fmt.Println("  nyx --version        Show version")
	fmt.Println("  nyx --help           Show this help")
}

// runFile evaluates a script file, exiting 0 on success and 1 on an
// uncaught error (spec.md §6.3).
func runFile(path string) {
	e := engine.New()
	if _, err := e.EvalFile(path); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// runSource evaluates a single expression passed via -e, printing its
// value unless it's undefined (spec.md §6.3).
func runSource(src string) {
	e := engine.New()
	result, err := e.Eval(src)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if !result.IsUndefined() {
		fmt.Println(result.ToString())
	}
}

// printError renders a single "ErrorType: message" line to stderr the
// way the teacher CLI's plain fmt/os.Exit idiom does (spec.md §7).
func printError(err error) {
	switch e := err.(type) {
	case *vm.UncaughtError:
		fmt.Fprintf(os.Stderr, "Uncaught: %s\n", e.Value.ToString())
	case *vm.RuntimeError:
		fmt.Fprintf(os.Stderr, "InternalError: %s\n", e.Message)
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
	}
}

// runREPL starts an interactive read-eval-print loop. A full line
// editor with history and multi-line continuation is out of scope for
// the core engine (spec.md §1's "Out of scope: REPL/line editor"); this
// is the thin delegation point an external REPL collaborator would
// replace, matching the "engine (no args): enter interactive mode
// (delegated to the external REPL collaborator)" contract of §6.3.
func runREPL() {
	fmt.Printf("nyx v%s\n", version)
	fmt.Println("Type \".exit\" to quit")
	e := engine.New()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == ".exit" {
			break
		}
		if line == "" {
			continue
		}
		result, err := e.Eval(line)
		if err != nil {
			printError(err)
			continue
		}
		if !result.IsUndefined() {
			fmt.Println(result.ToString())
		}
	}
}

var _ = value.Undefined
