// Package engine ties the scanner, parser, compiler, heap, and VM into
// the single entry point a host embeds: new_engine/eval/eval_file/
// register_native/add_root/remove_root/collect/stats (spec.md §6.1).
// It is grounded on cmd/smog/main.go's own runSourceFile sequencing —
// read a file, parse it, compile it, run it on a VM — generalized from
// a one-shot CLI helper into a reusable, repeatedly-callable type.
package engine

import (
	"os"

	"github.com/kristofer/nyx/pkg/ast"
	"github.com/kristofer/nyx/pkg/builtins"
	"github.com/kristofer/nyx/pkg/compiler"
	"github.com/kristofer/nyx/pkg/heap"
	"github.com/kristofer/nyx/pkg/parser"
	"github.com/kristofer/nyx/pkg/value"
	"github.com/kristofer/nyx/pkg/vm"
)

// Engine is a self-contained interpreter instance: one heap, one
// global namespace, one VM. Scripts run against it keep whatever
// globals and heap objects a previous Eval call rooted, but each
// Eval/EvalFile call compiles and runs its source as one complete
// program the way spec.md §6.1 describes, not as an incremental REPL
// fragment sharing local-variable slots with prior calls.
type Engine struct {
	Heap *heap.Heap
	VM   *vm.VM
}

// New constructs a fresh interpreter with the builtin registry
// installed (spec.md §4.7's Math/console/JSON/Object/Array/String/
// Number/Boolean/Date/RegExp/parseInt/parseFloat/isNaN/isFinite), the
// way a host's first call after new_engine() is expected to see them
// already global.
func New() *Engine {
	h := heap.New()
	v := vm.New(h)
	builtins.Install(v)
	return &Engine{Heap: h, VM: v}
}

// Eval scans, parses, compiles, and executes a complete program
// string, returning the value of its last top-level expression
// statement or Undefined if the program ends in a non-expression
// statement or is empty (spec.md §6.1). The compiler itself has no
// "last expression becomes the result" concept — every expression
// statement compiles to an evaluate-then-pop pair — so Eval rewrites
// the parsed AST, replacing a trailing ExpressionStatement with an
// equivalent ReturnStatement before compiling, the same trick a
// tree-walking REPL would use to surface a completion value without
// changing the compiler's own statement semantics.
func (e *Engine) Eval(source string) (value.Value, error) {
	p := parser.New(source)
	program, err := p.Parse()
	if err != nil {
		return value.Undefined, err
	}
	asReturn(program)

	c := compiler.New()
	bc, err := c.Compile(program)
	if err != nil {
		return value.Undefined, err
	}
	result, err := e.VM.Run(bc)
	if tv, ok := err.(*vm.ThrownValue); ok {
		return value.Undefined, &vm.UncaughtError{Value: tv.Value}
	}
	return result, err
}

// EvalFile reads path as UTF-8 source and evaluates it (spec.md §6.1).
func (e *Engine) EvalFile(path string) (value.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return value.Undefined, err
	}
	return e.Eval(string(data))
}

// asReturn rewrites the last statement of program in place into a
// ReturnStatement carrying its expression, if it is an
// ExpressionStatement. Any other trailing statement shape (a
// declaration, a block, a bare return) is left untouched, since those
// either already control the completion value or have none to give.
func asReturn(program *ast.Program) {
	n := len(program.Statements)
	if n == 0 {
		return
	}
	last, ok := program.Statements[n-1].(*ast.ExpressionStatement)
	if !ok {
		return
	}
	program.Statements[n-1] = &ast.ReturnStatement{Argument: last.Expression}
}

// RegisterNative installs fn as a global or namespaced host function
// (spec.md §6.1's "engine.register_native(name, arity, fn)"), using the
// same dot-splitting convention pkg/builtins uses for its own table.
func (e *Engine) RegisterNative(name string, arity int, fn heap.NativeFunc) {
	builtins.RegisterNative(e.VM, name, arity, fn)
}

// AddRoot and RemoveRoot pin or unpin a heap handle against collection
// (spec.md §6.1), for host code holding onto a Value across calls that
// don't otherwise keep it reachable from a global or the stack.
func (e *Engine) AddRoot(h value.Handle)    { e.Heap.AddRoot(h) }
func (e *Engine) RemoveRoot(h value.Handle) { e.Heap.RemoveRoot(h) }

// Collect, MinorGC, and MajorGC force a collection cycle (spec.md
// §6.1). Collect is an alias for a full major collection, matching
// pkg/heap's own Collect.
func (e *Engine) Collect()  { e.Heap.Collect() }
func (e *Engine) MinorGC()  { e.Heap.MinorGC() }
func (e *Engine) MajorGC()  { e.Heap.MajorGC() }

// Stats reports the engine's GC counters (spec.md §6.1's GcStats:
// minor/major collection counts, bytes allocated/freed, last pause
// duration, nursery used, old-gen size, peak memory).
func (e *Engine) Stats() heap.Stats { return e.Heap.Stats() }
