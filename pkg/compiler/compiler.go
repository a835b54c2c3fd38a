// Package compiler implements nyx's compiler (C3): it lowers the AST
// into bytecode in the six passes spec.md §4.3 describes.
//
// Passes:
//
//  1. Hoisting — var declarations and function declarations are
//     registered at the top of their enclosing function (or the
//     implicit top-level frame) before the body is walked in order.
//  2. Scope resolution — each identifier resolves to a local slot, a
//     captured outer variable, or a global, walking the function-nesting
//     chain the teacher's flat `symbols map[string]int` generalizes into.
//  3. Closure injection — a nested function's free variables are
//     snapshotted into the global namespace immediately before
//     `MakeClosure` runs; the call machinery restores those globals for
//     the duration of each invocation. This reuses LoadGlobal/
//     StoreGlobal instead of adding dedicated upvalue opcodes.
//  4. Control-flow lowering — loop contexts carry break/continue patch
//     lists, backpatched once the loop's start/end addresses are known;
//     switch statements become a cascade of equality tests.
//  5. Expression lowering — short-circuit &&/||, assignment targets,
//     pre/post update.
//  6. For-in/for-of lowering — both share the ForInInit/ForInNext/
//     ForInDone opcodes.
package compiler

import (
	"fmt"

	"github.com/kristofer/nyx/pkg/ast"
	"github.com/kristofer/nyx/pkg/bytecode"
)

// scope is one block-level name table within a function. Function
// bodies push a new scope per block so that `let`/`const` shadow
// correctly; `var` always binds in the function's outermost scope.
type scope struct {
	names  map[string]int
	parent *scope
}

// loopContext tracks backpatch sites for break/continue within one
// enclosing loop or switch, keyed by an optional label.
type loopContext struct {
	label           string
	breakPatches    []int
	continuePatches []int
}

// funcCompiler holds the in-progress instruction stream and symbol
// tables for one function body (or the implicit top-level frame).
type funcCompiler struct {
	parent     *funcCompiler
	name       string
	paramCount int
	numLocals  int

	instructions []bytecode.Instruction
	constants    []interface{}
	handlers     []bytecode.TryHandler

	topScope *scope
	scope    *scope

	captures   []string
	captureSet map[string]bool

	loops []*loopContext
}

// newFuncCompiler starts numLocals at 0, not paramCount: the caller
// declares each parameter via declareLocal in order immediately after,
// which is what actually assigns them slots 0..paramCount-1 — the layout
// the call frame's argument-binding relies on.
func newFuncCompiler(parent *funcCompiler, name string, paramCount int) *funcCompiler {
	top := &scope{names: make(map[string]int)}
	return &funcCompiler{
		parent:     parent,
		name:       name,
		paramCount: paramCount,
		topScope:   top,
		scope:      top,
		captureSet: make(map[string]bool),
	}
}

// Compiler compiles a parsed Program into bytecode.
type Compiler struct{}

// New creates a Compiler.
func New() *Compiler { return &Compiler{} }

// Compile compiles program into a root Bytecode module, treating the
// script body as an implicit top-level function frame (resolving the
// "where do top-level let/const live" open question).
func (c *Compiler) Compile(program *ast.Program) (*bytecode.Bytecode, error) {
	fc := newFuncCompiler(nil, "<top>", 0)
	hoist(fc, program.Statements)
	for _, stmt := range program.Statements {
		if err := compileStatement(fc, stmt); err != nil {
			return nil, err
		}
	}
	emit(fc, bytecode.OpHalt, 0)
	return &bytecode.Bytecode{Instructions: fc.instructions, Constants: fc.constants, Handlers: fc.handlers}, nil
}

// --- emission helpers ---

func emit(fc *funcCompiler, op bytecode.Opcode, operand int) int {
	fc.instructions = append(fc.instructions, bytecode.Instruction{Op: op, Operand: operand})
	return len(fc.instructions) - 1
}

func here(fc *funcCompiler) int { return len(fc.instructions) }

func patchTo(fc *funcCompiler, instrIdx int, target int) {
	fc.instructions[instrIdx].Operand = target
}

func addConstant(fc *funcCompiler, v interface{}) int {
	fc.constants = append(fc.constants, v)
	return len(fc.constants) - 1
}

// --- scopes ---

func pushScope(fc *funcCompiler) { fc.scope = &scope{names: make(map[string]int), parent: fc.scope} }
func popScope(fc *funcCompiler)  { fc.scope = fc.scope.parent }

func declareLocal(fc *funcCompiler, name string) int {
	if idx, ok := fc.scope.names[name]; ok {
		return idx
	}
	idx := fc.numLocals
	fc.numLocals++
	fc.scope.names[name] = idx
	return idx
}

// newTemp allocates a fresh local slot outside the name table, so
// compiler-internal temporaries (switch discriminants, member-assignment
// object/key/value holders) never collide with each other or with a
// same-named temp still live in an enclosing expression — unlike
// declareLocal, which intentionally returns the same slot for a repeated
// name within one scope.
func newTemp(fc *funcCompiler) int {
	idx := fc.numLocals
	fc.numLocals++
	return idx
}

// declareVar binds name in the function's outermost scope, per var's
// function-scoping semantics (spec.md §4.3 step 1).
func declareVar(fc *funcCompiler, name string) int {
	if idx, ok := fc.topScope.names[name]; ok {
		return idx
	}
	idx := fc.numLocals
	fc.numLocals++
	fc.topScope.names[name] = idx
	return idx
}

func resolveLocal(fc *funcCompiler, name string) (int, bool) {
	for s := fc.scope; s != nil; s = s.parent {
		if idx, ok := s.names[name]; ok {
			return idx, true
		}
	}
	return 0, false
}

func addCapture(fc *funcCompiler, name string) {
	if fc.captureSet[name] {
		return
	}
	fc.captureSet[name] = true
	fc.captures = append(fc.captures, name)
}

// registerCapture walks the function-nesting chain to see whether name
// is bound (as a local, or already captured) in some enclosing
// function. If so every function on the path from fc up to that
// binding records name as one of its own captures, cascading the
// closure-injection protocol through intermediate nested functions.
func registerCapture(fc *funcCompiler, name string) bool {
	if fc == nil {
		return false
	}
	if _, ok := resolveLocal(fc, name); ok {
		return true
	}
	if registerCapture(fc.parent, name) {
		addCapture(fc, name)
		return true
	}
	return false
}

// compileIdentifierLoad emits the load sequence for a bare name
// reference, registering it as a capture along the enclosing function
// chain when it isn't local to fc.
func compileIdentifierLoad(fc *funcCompiler, name string) {
	if idx, ok := resolveLocal(fc, name); ok {
		emit(fc, bytecode.OpLoadLocal, idx)
		return
	}
	registerCapture(fc, name)
	idx := addConstant(fc, name)
	emit(fc, bytecode.OpLoadGlobal, idx)
}

func compileIdentifierStore(fc *funcCompiler, name string) {
	if idx, ok := resolveLocal(fc, name); ok {
		emit(fc, bytecode.OpStoreLocal, idx)
		return
	}
	registerCapture(fc, name)
	idx := addConstant(fc, name)
	emit(fc, bytecode.OpStoreGlobal, idx)
}

// --- hoisting (pass 1) ---

// hoist declares every `var` name and every function declaration's name
// reachable in stmts, without descending into nested function bodies.
// Only the names are declared here: a function declaration's closure is
// built and stored where the declaration appears (see compileStatement),
// so code placed before it in the same body reads the name as undefined.
func hoist(fc *funcCompiler, stmts []ast.Statement) {
	collectVars(fc, stmts)
	for _, stmt := range stmts {
		if fd, ok := stmt.(*ast.FunctionDeclaration); ok {
			declareVar(fc, fd.Name)
		}
	}
}

func collectVars(fc *funcCompiler, stmts []ast.Statement) {
	for _, stmt := range stmts {
		collectVarsInStatement(fc, stmt)
	}
}

func collectVarsInStatement(fc *funcCompiler, stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.VariableDeclaration:
		if s.Kind == ast.VarVar {
			for _, d := range s.Declarators {
				declareVar(fc, d.Name)
			}
		}
	case *ast.BlockStatement:
		collectVars(fc, s.Statements)
	case *ast.IfStatement:
		collectVarsInStatement(fc, s.Consequent)
		if s.Alternate != nil {
			collectVarsInStatement(fc, s.Alternate)
		}
	case *ast.WhileStatement:
		collectVarsInStatement(fc, s.Body)
	case *ast.DoWhileStatement:
		collectVarsInStatement(fc, s.Body)
	case *ast.ForStatement:
		if decl, ok := s.Init.(*ast.VariableDeclaration); ok && decl.Kind == ast.VarVar {
			for _, d := range decl.Declarators {
				declareVar(fc, d.Name)
			}
		}
		collectVarsInStatement(fc, s.Body)
	case *ast.ForInStatement:
		if s.Decl && s.Kind == ast.VarVar {
			declareVar(fc, s.Name)
		}
		collectVarsInStatement(fc, s.Body)
	case *ast.TryStatement:
		collectVars(fc, s.Block)
		if s.HasCatch {
			collectVars(fc, s.CatchBody)
		}
		if s.HasFinally {
			collectVars(fc, s.FinallyBody)
		}
	case *ast.SwitchStatement:
		for _, c := range s.Cases {
			collectVars(fc, c.Body)
		}
	case *ast.LabeledStatement:
		collectVarsInStatement(fc, s.Body)
	case *ast.WithStatement:
		collectVarsInStatement(fc, s.Body)
	}
}

// --- statements ---

func compileStatement(fc *funcCompiler, stmt ast.Statement) error {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		if err := compileExpression(fc, s.Expression); err != nil {
			return err
		}
		emit(fc, bytecode.OpPop, 0)
		return nil

	case *ast.VariableDeclaration:
		return compileVariableDeclaration(fc, s)

	case *ast.FunctionDeclaration:
		// hoist declared the name; build the closure and bind it here.
		lit := &ast.FunctionLiteral{Name: s.Name, Params: s.Params, Body: s.Body}
		if err := compileFunctionLiteral(fc, lit); err != nil {
			return err
		}
		compileIdentifierStore(fc, s.Name)
		emit(fc, bytecode.OpPop, 0)
		return nil

	case *ast.BlockStatement:
		pushScope(fc)
		defer popScope(fc)
		for _, st := range s.Statements {
			if err := compileStatement(fc, st); err != nil {
				return err
			}
		}
		return nil

	case *ast.IfStatement:
		return compileIf(fc, s)

	case *ast.WhileStatement:
		return compileWhile(fc, s)

	case *ast.DoWhileStatement:
		return compileDoWhile(fc, s)

	case *ast.ForStatement:
		return compileFor(fc, s)

	case *ast.ForInStatement:
		return compileForIn(fc, s)

	case *ast.SwitchStatement:
		return compileSwitch(fc, s)

	case *ast.TryStatement:
		return compileTry(fc, s)

	case *ast.ThrowStatement:
		if err := compileExpression(fc, s.Argument); err != nil {
			return err
		}
		emit(fc, bytecode.OpThrow, 0)
		return nil

	case *ast.ReturnStatement:
		if s.Argument != nil {
			if err := compileExpression(fc, s.Argument); err != nil {
				return err
			}
		} else {
			emit(fc, bytecode.OpLoadUndefined, 0)
		}
		emit(fc, bytecode.OpReturn, 0)
		return nil

	case *ast.BreakStatement:
		return compileBreak(fc, s.Label)

	case *ast.ContinueStatement:
		return compileContinue(fc, s.Label)

	case *ast.LabeledStatement:
		return compileLabeled(fc, s)

	case *ast.WithStatement:
		return compileWith(fc, s)

	case *ast.DebuggerStatement, *ast.EmptyStatement:
		return nil

	default:
		return fmt.Errorf("compiler: unknown statement type %T", stmt)
	}
}

func compileVariableDeclaration(fc *funcCompiler, decl *ast.VariableDeclaration) error {
	for _, d := range decl.Declarators {
		var idx int
		if decl.Kind == ast.VarVar {
			idx = declareVar(fc, d.Name) // already hoisted; declareVar is idempotent
		} else {
			idx = declareLocal(fc, d.Name)
		}
		if d.Init != nil {
			if err := compileExpression(fc, d.Init); err != nil {
				return err
			}
		} else {
			emit(fc, bytecode.OpLoadUndefined, 0)
		}
		emit(fc, bytecode.OpStoreLocal, idx)
		emit(fc, bytecode.OpPop, 0)
	}
	return nil
}

func compileIf(fc *funcCompiler, s *ast.IfStatement) error {
	if err := compileExpression(fc, s.Test); err != nil {
		return err
	}
	jumpElse := emit(fc, bytecode.OpJumpIfFalse, 0)
	if err := compileStatement(fc, s.Consequent); err != nil {
		return err
	}
	if s.Alternate != nil {
		jumpEnd := emit(fc, bytecode.OpJump, 0)
		patchTo(fc, jumpElse, here(fc))
		if err := compileStatement(fc, s.Alternate); err != nil {
			return err
		}
		patchTo(fc, jumpEnd, here(fc))
	} else {
		patchTo(fc, jumpElse, here(fc))
	}
	return nil
}

func pushLoop(fc *funcCompiler, label string) *loopContext {
	lc := &loopContext{label: label}
	fc.loops = append(fc.loops, lc)
	return lc
}

func popLoop(fc *funcCompiler) {
	fc.loops = fc.loops[:len(fc.loops)-1]
}

func compileWhile(fc *funcCompiler, s *ast.WhileStatement) error {
	lc := pushLoop(fc, s.Label)
	start := here(fc)
	if err := compileExpression(fc, s.Test); err != nil {
		return err
	}
	jumpEnd := emit(fc, bytecode.OpJumpIfFalse, 0)
	if err := compileStatement(fc, s.Body); err != nil {
		return err
	}
	emit(fc, bytecode.OpJump, start)
	end := here(fc)
	patchTo(fc, jumpEnd, end)
	for _, p := range lc.breakPatches {
		patchTo(fc, p, end)
	}
	for _, p := range lc.continuePatches {
		patchTo(fc, p, start)
	}
	popLoop(fc)
	return nil
}

func compileDoWhile(fc *funcCompiler, s *ast.DoWhileStatement) error {
	lc := pushLoop(fc, s.Label)
	start := here(fc)
	if err := compileStatement(fc, s.Body); err != nil {
		return err
	}
	continueTarget := here(fc)
	if err := compileExpression(fc, s.Test); err != nil {
		return err
	}
	emit(fc, bytecode.OpJumpIfTrue, start)
	end := here(fc)
	for _, p := range lc.breakPatches {
		patchTo(fc, p, end)
	}
	for _, p := range lc.continuePatches {
		patchTo(fc, p, continueTarget)
	}
	popLoop(fc)
	return nil
}

func compileFor(fc *funcCompiler, s *ast.ForStatement) error {
	pushScope(fc)
	defer popScope(fc)

	switch init := s.Init.(type) {
	case *ast.VariableDeclaration:
		if err := compileVariableDeclaration(fc, init); err != nil {
			return err
		}
	case *ast.ExpressionStatement:
		if err := compileExpression(fc, init.Expression); err != nil {
			return err
		}
		emit(fc, bytecode.OpPop, 0)
	}

	lc := pushLoop(fc, s.Label)
	start := here(fc)
	var jumpEnd int
	hasTest := s.Test != nil
	if hasTest {
		if err := compileExpression(fc, s.Test); err != nil {
			return err
		}
		jumpEnd = emit(fc, bytecode.OpJumpIfFalse, 0)
	}
	if err := compileStatement(fc, s.Body); err != nil {
		return err
	}
	continueTarget := here(fc)
	if s.Update != nil {
		if err := compileExpression(fc, s.Update); err != nil {
			return err
		}
		emit(fc, bytecode.OpPop, 0)
	}
	emit(fc, bytecode.OpJump, start)
	end := here(fc)
	if hasTest {
		patchTo(fc, jumpEnd, end)
	}
	for _, p := range lc.breakPatches {
		patchTo(fc, p, end)
	}
	for _, p := range lc.continuePatches {
		patchTo(fc, p, continueTarget)
	}
	popLoop(fc)
	return nil
}

// compileForIn lowers both for-in and for-of onto ForInInit/ForInNext/
// ForInDone, per spec.md §4.3 step 6.
func compileForIn(fc *funcCompiler, s *ast.ForInStatement) error {
	pushScope(fc)
	defer popScope(fc)

	if err := compileExpression(fc, s.Right); err != nil {
		return err
	}
	emit(fc, bytecode.OpForInInit, 0)

	var slot int
	if s.Decl {
		slot = declareLocal(fc, s.Name)
	} else if idx, ok := resolveLocal(fc, s.Name); ok {
		slot = idx
	} else {
		slot = -1
	}

	lc := pushLoop(fc, s.Label)
	start := here(fc)
	next := emit(fc, bytecode.OpForInNext, 0)
	if slot >= 0 {
		emit(fc, bytecode.OpStoreLocal, slot)
	} else {
		idx := addConstant(fc, s.Name)
		emit(fc, bytecode.OpStoreGlobal, idx)
	}
	emit(fc, bytecode.OpPop, 0) // Store* pushes the value back; the loop variable isn't an expression result here
	if err := compileStatement(fc, s.Body); err != nil {
		return err
	}
	emit(fc, bytecode.OpJump, start)
	end := here(fc)
	patchTo(fc, next, end)
	emit(fc, bytecode.OpForInDone, 0)
	// break targets the ForInDone instruction itself (not just past it), so
	// a break out of the loop still balances the VM's iterator stack the
	// same way natural exhaustion does.
	for _, p := range lc.breakPatches {
		patchTo(fc, p, end)
	}
	for _, p := range lc.continuePatches {
		patchTo(fc, p, start)
	}
	popLoop(fc)
	return nil
}

// compileSwitch lowers to a cascade of StrictEq comparisons against the
// discriminant (held in a temporary local slot) followed by a jump
// table, matching ES3 switch semantics (case fallthrough, one default).
func compileSwitch(fc *funcCompiler, s *ast.SwitchStatement) error {
	pushScope(fc)
	defer popScope(fc)

	if err := compileExpression(fc, s.Discriminant); err != nil {
		return err
	}
	discSlot := newTemp(fc)
	emit(fc, bytecode.OpStoreLocal, discSlot)
	emit(fc, bytecode.OpPop, 0)

	lc := pushLoop(fc, s.Label)

	type pendingCase struct {
		jumpIdx int
		caseIdx int
	}
	var tests []pendingCase
	defaultIdx := -1
	for i, c := range s.Cases {
		if c.Test == nil {
			defaultIdx = i
			continue
		}
		emit(fc, bytecode.OpLoadLocal, discSlot)
		if err := compileExpression(fc, c.Test); err != nil {
			return err
		}
		emit(fc, bytecode.OpStrictEq, 0)
		j := emit(fc, bytecode.OpJumpIfTrue, 0)
		tests = append(tests, pendingCase{jumpIdx: j, caseIdx: i})
	}
	fallthroughToDefault := emit(fc, bytecode.OpJump, 0)

	caseStarts := make([]int, len(s.Cases))
	bodyStart := here(fc)
	for i, c := range s.Cases {
		caseStarts[i] = here(fc)
		for _, st := range c.Body {
			if err := compileStatement(fc, st); err != nil {
				return err
			}
		}
	}
	end := here(fc)

	for _, pc := range tests {
		patchTo(fc, pc.jumpIdx, caseStarts[pc.caseIdx])
	}
	if defaultIdx >= 0 {
		patchTo(fc, fallthroughToDefault, caseStarts[defaultIdx])
	} else {
		patchTo(fc, fallthroughToDefault, end)
	}
	_ = bodyStart

	for _, p := range lc.breakPatches {
		patchTo(fc, p, end)
	}
	// continue inside a switch is only valid if an enclosing loop exists;
	// those patches are left for the enclosing loop to claim (propagated
	// below).
	popLoop(fc)
	if len(lc.continuePatches) > 0 && len(fc.loops) > 0 {
		outer := fc.loops[len(fc.loops)-1]
		outer.continuePatches = append(outer.continuePatches, lc.continuePatches...)
	}
	return nil
}

// compileTry emits the try block, catch block, and finally block in
// sequence and records a TryHandler so the interpreter can route a
// Throw (or an in-flight Return) to the right handler, per spec.md
// §4.6's call-frame-chain search.
func compileTry(fc *funcCompiler, s *ast.TryStatement) error {
	startPC := here(fc)
	pushScope(fc)
	for _, st := range s.Block {
		if err := compileStatement(fc, st); err != nil {
			popScope(fc)
			return err
		}
	}
	popScope(fc)
	endPC := here(fc) - 1
	if endPC < startPC {
		endPC = startPC
	}

	jumpOverCatch := emit(fc, bytecode.OpJump, 0)

	handler := bytecode.TryHandler{StartPC: startPC, EndPC: endPC}

	if s.HasCatch {
		catchPC := here(fc)
		handler.HasCatch = true
		handler.CatchPC = catchPC
		handler.CatchParam = s.CatchParam
		pushScope(fc)
		if s.CatchParam != "" {
			idx := declareLocal(fc, s.CatchParam)
			emit(fc, bytecode.OpStoreLocal, idx)
			emit(fc, bytecode.OpPop, 0)
		} else {
			emit(fc, bytecode.OpPop, 0)
		}
		for _, st := range s.CatchBody {
			if err := compileStatement(fc, st); err != nil {
				popScope(fc)
				return err
			}
		}
		popScope(fc)
	}
	patchTo(fc, jumpOverCatch, here(fc))

	if s.HasFinally {
		handler.HasFinally = true
		handler.FinallyPC = here(fc)
		pushScope(fc)
		for _, st := range s.FinallyBody {
			if err := compileStatement(fc, st); err != nil {
				popScope(fc)
				return err
			}
		}
		popScope(fc)
		handler.FinallyEndPC = here(fc) - 1
		if handler.FinallyEndPC < handler.FinallyPC {
			handler.FinallyEndPC = handler.FinallyPC
		}
	}

	fc.handlers = append(fc.handlers, handler)
	return nil
}

func compileBreak(fc *funcCompiler, label string) error {
	lc := findLoop(fc, label)
	if lc == nil {
		return fmt.Errorf("compiler: break outside of a loop or switch")
	}
	idx := emit(fc, bytecode.OpJump, 0)
	lc.breakPatches = append(lc.breakPatches, idx)
	return nil
}

func compileContinue(fc *funcCompiler, label string) error {
	lc := findLoop(fc, label)
	if lc == nil {
		return fmt.Errorf("compiler: continue outside of a loop")
	}
	idx := emit(fc, bytecode.OpJump, 0)
	lc.continuePatches = append(lc.continuePatches, idx)
	return nil
}

func findLoop(fc *funcCompiler, label string) *loopContext {
	if label == "" {
		if len(fc.loops) == 0 {
			return nil
		}
		return fc.loops[len(fc.loops)-1]
	}
	for i := len(fc.loops) - 1; i >= 0; i-- {
		if fc.loops[i].label == label {
			return fc.loops[i]
		}
	}
	return nil
}

// compileLabeled handles `label: stmt` for statements that aren't
// themselves a loop/switch (those attach the label directly so break
// <label>/continue <label> can target them without an extra wrapper).
func compileLabeled(fc *funcCompiler, s *ast.LabeledStatement) error {
	switch s.Body.(type) {
	case *ast.WhileStatement, *ast.DoWhileStatement, *ast.ForStatement, *ast.ForInStatement, *ast.SwitchStatement:
		return compileStatement(fc, s.Body)
	default:
		lc := pushLoop(fc, s.Label)
		if err := compileStatement(fc, s.Body); err != nil {
			return err
		}
		end := here(fc)
		for _, p := range lc.breakPatches {
			patchTo(fc, p, end)
		}
		popLoop(fc)
		return nil
	}
}

// compileWith evaluates the with-object and pushes it onto the VM's
// runtime scope chain for the duration of body, then pops it — the
// redesigned `with` behavior (real scope-chain push/pop instead of a
// silent no-op). Identifier references inside body that aren't locals
// already compile to LoadGlobal/StoreGlobal; the VM checks the scope
// chain before falling back to true globals.
func compileWith(fc *funcCompiler, s *ast.WithStatement) error {
	if err := compileExpression(fc, s.Object); err != nil {
		return err
	}
	emit(fc, bytecode.OpWithEnter, 0)
	if err := compileStatement(fc, s.Body); err != nil {
		return err
	}
	emit(fc, bytecode.OpWithExit, 0)
	return nil
}

// --- functions and closures ---

func compileFunctionLiteral(fc *funcCompiler, lit *ast.FunctionLiteral) error {
	inner := newFuncCompiler(fc, lit.Name, len(lit.Params))
	for _, p := range lit.Params {
		declareLocal(inner, p)
	}

	// A named function's own name resolves to a local bound to the
	// executing closure (set up by the call frame alongside `this`),
	// not to the outer-scope capture/snapshot mechanism — otherwise a
	// recursive call like `function fact(n){ return fact(n-1); }` would
	// capture whatever "fact" held before this closure was even
	// assigned to it.
	selfSlot := -1
	if lit.Name != "" {
		selfSlot = declareLocal(inner, lit.Name)
	}

	hoist(inner, lit.Body)
	for _, stmt := range lit.Body {
		if err := compileStatement(inner, stmt); err != nil {
			return err
		}
	}
	emit(inner, bytecode.OpLoadUndefined, 0)
	emit(inner, bytecode.OpReturn, 0)

	tmpl := &bytecode.FunctionTemplate{
		Name:       lit.Name,
		ParamCount: len(lit.Params),
		NumLocals:  inner.numLocals,
		Captures:   inner.captures,
		SelfSlot:   selfSlot,
		Code: &bytecode.Bytecode{
			Instructions: inner.instructions,
			Constants:    inner.constants,
			Handlers:     inner.handlers,
		},
	}

	for _, name := range inner.captures {
		compileIdentifierLoad(fc, name)
		nameIdx := addConstant(fc, name)
		emit(fc, bytecode.OpStoreGlobal, nameIdx)
		emit(fc, bytecode.OpPop, 0) // discard Store's pushback; MakeClosure reads captures by name, not off the stack
	}
	tmplIdx := addConstant(fc, tmpl)
	emit(fc, bytecode.OpMakeClosure, tmplIdx)
	return nil
}

// --- expressions (pass 5) ---

func compileExpression(fc *funcCompiler, expr ast.Expression) error {
	switch e := expr.(type) {
	case *ast.NumberLiteral:
		emit(fc, bytecode.OpLoadConst, addConstant(fc, e.Value))
	case *ast.BigIntLiteral:
		emit(fc, bytecode.OpLoadConst, addConstant(fc, bytecode.BigIntText(e.Text)))
	case *ast.StringLiteral:
		emit(fc, bytecode.OpLoadConst, addConstant(fc, e.Value))
	case *ast.BooleanLiteral:
		if e.Value {
			emit(fc, bytecode.OpLoadTrue, 0)
		} else {
			emit(fc, bytecode.OpLoadFalse, 0)
		}
	case *ast.NullLiteral:
		emit(fc, bytecode.OpLoadNull, 0)
	case *ast.UndefinedLiteral:
		emit(fc, bytecode.OpLoadUndefined, 0)
	case *ast.ThisExpression:
		emit(fc, bytecode.OpLoadThis, 0)
	case *ast.RegexLiteral:
		emit(fc, bytecode.OpLoadConst, addConstant(fc, bytecode.RegexLit{Pattern: e.Pattern, Flags: e.Flags}))

	case *ast.Identifier:
		compileIdentifierLoad(fc, e.Name)

	case *ast.ArrayLiteral:
		for _, el := range e.Elements {
			if err := compileExpression(fc, el); err != nil {
				return err
			}
		}
		emit(fc, bytecode.OpNewArray, len(e.Elements))

	case *ast.ObjectLiteral:
		emit(fc, bytecode.OpNewObject, 0)
		for _, p := range e.Properties {
			emit(fc, bytecode.OpDup, 0)
			if err := compileExpression(fc, p.Value); err != nil {
				return err
			}
			nameIdx := addConstant(fc, p.Key)
			emit(fc, bytecode.OpSetProperty, nameIdx)
			emit(fc, bytecode.OpPop, 0)
		}

	case *ast.FunctionLiteral:
		return compileFunctionLiteral(fc, e)

	case *ast.UnaryExpression:
		return compileUnary(fc, e)

	case *ast.UpdateExpression:
		return compileUpdate(fc, e)

	case *ast.BinaryExpression:
		return compileBinary(fc, e)

	case *ast.LogicalExpression:
		return compileLogical(fc, e)

	case *ast.ConditionalExpression:
		return compileConditional(fc, e)

	case *ast.AssignmentExpression:
		return compileAssignment(fc, e)

	case *ast.SequenceExpression:
		for i, ex := range e.Expressions {
			if i > 0 {
				emit(fc, bytecode.OpPop, 0)
			}
			if err := compileExpression(fc, ex); err != nil {
				return err
			}
		}

	case *ast.MemberExpression:
		return compileMemberLoad(fc, e)

	case *ast.CallExpression:
		return compileCall(fc, e)

	case *ast.NewExpression:
		if err := compileExpression(fc, e.Callee); err != nil {
			return err
		}
		for _, a := range e.Args {
			if err := compileExpression(fc, a); err != nil {
				return err
			}
		}
		emit(fc, bytecode.OpCall, len(e.Args)|newCallFlag)

	default:
		return fmt.Errorf("compiler: unknown expression type %T", expr)
	}
	return nil
}

// newCallFlag distinguishes `new Foo()` from `Foo()` without adding a
// separate opcode: set in bit 16 of Call's argument-count operand, just
// above the count itself.
const newCallFlag = 1 << 16

func compileUnary(fc *funcCompiler, e *ast.UnaryExpression) error {
	if e.Operator == "delete" {
		if m, ok := e.Argument.(*ast.MemberExpression); ok {
			if err := compileExpression(fc, m.Object); err != nil {
				return err
			}
			if m.Computed {
				if err := compileExpression(fc, m.Property); err != nil {
					return err
				}
				emit(fc, bytecode.OpDeleteProperty, -1)
			} else {
				name := m.Property.(*ast.Identifier).Name
				emit(fc, bytecode.OpDeleteProperty, addConstant(fc, name))
			}
			return nil
		}
		emit(fc, bytecode.OpLoadTrue, 0)
		return nil
	}

	if err := compileExpression(fc, e.Argument); err != nil {
		return err
	}
	switch e.Operator {
	case "!":
		emit(fc, bytecode.OpNot, 0)
	case "-":
		emit(fc, bytecode.OpNeg, 0)
	case "+":
		// unary plus: ToNumber, implemented as Neg(Neg(x)) to reuse an
		// existing opcode rather than adding a dedicated ToNumber op.
		emit(fc, bytecode.OpNeg, 0)
		emit(fc, bytecode.OpNeg, 0)
	case "~":
		emit(fc, bytecode.OpBitNot, 0)
	case "typeof":
		emit(fc, bytecode.OpTypeOf, 0)
	case "void":
		emit(fc, bytecode.OpPop, 0)
		emit(fc, bytecode.OpLoadUndefined, 0)
	default:
		return fmt.Errorf("compiler: unknown unary operator %q", e.Operator)
	}
	return nil
}

// compileUpdate lowers ++/-- for both prefix and postfix position. Store*
// opcodes push the stored value back onto the stack (the mechanism that
// lets assignment act as an expression); prefix form keeps that pushed
// value as its result, postfix form discards it and keeps the pre-update
// value it duped off first.
func compileUpdate(fc *funcCompiler, e *ast.UpdateExpression) error {
	delta := 1.0
	if e.Operator == "--" {
		delta = -1.0
	}
	switch target := e.Argument.(type) {
	case *ast.Identifier:
		compileIdentifierLoad(fc, target.Name) // [old]
		if !e.Prefix {
			emit(fc, bytecode.OpDup, 0) // [old, old]
		}
		emit(fc, bytecode.OpLoadConst, addConstant(fc, delta))
		emit(fc, bytecode.OpAdd, 0) // prefix: [new]; postfix: [old, new]
		compileIdentifierStore(fc, target.Name)
		if !e.Prefix {
			emit(fc, bytecode.OpPop, 0) // discard Store's pushback of the new value
		}
		return nil
	case *ast.MemberExpression:
		return compileMemberUpdate(fc, target, delta, e.Prefix)
	default:
		return fmt.Errorf("compiler: invalid update target %T", e.Argument)
	}
}

// compileMemberUpdate stashes the object (and, for a computed member, the
// key) in temporary locals so they're evaluated exactly once, then reads
// through them twice: once to fetch the old value, once to write the new
// one, leaving the pre- or post-update value on the stack per prefix.
func compileMemberUpdate(fc *funcCompiler, m *ast.MemberExpression, delta float64, prefix bool) error {
	nameConst, objSlot, keySlot, err := stashMemberTarget(fc, m)
	if err != nil {
		return err
	}

	loadTarget := func() {
		emit(fc, bytecode.OpLoadLocal, objSlot)
		if keySlot >= 0 {
			emit(fc, bytecode.OpLoadLocal, keySlot)
		}
	}

	loadTarget()
	emit(fc, bytecode.OpGetProperty, nameConst)
	oldSlot := newTemp(fc)
	emit(fc, bytecode.OpStoreLocal, oldSlot)
	emit(fc, bytecode.OpPop, 0)

	emit(fc, bytecode.OpLoadLocal, oldSlot)
	emit(fc, bytecode.OpLoadConst, addConstant(fc, delta))
	emit(fc, bytecode.OpAdd, 0)
	newSlot := newTemp(fc)
	emit(fc, bytecode.OpStoreLocal, newSlot)
	emit(fc, bytecode.OpPop, 0)

	loadTarget()
	emit(fc, bytecode.OpLoadLocal, newSlot)
	emit(fc, bytecode.OpSetProperty, nameConst)
	emit(fc, bytecode.OpPop, 0) // discard SetProperty's pushback; result below is chosen explicitly

	if prefix {
		emit(fc, bytecode.OpLoadLocal, newSlot)
	} else {
		emit(fc, bytecode.OpLoadLocal, oldSlot)
	}
	return nil
}

// stashMemberTarget evaluates m.Object (and, if computed, m.Property)
// exactly once into fresh temporary locals, returning the GetProperty/
// SetProperty name-constant operand (-1 for computed) alongside the slot
// indices so callers can reload the target as many times as needed.
func stashMemberTarget(fc *funcCompiler, m *ast.MemberExpression) (nameConst, objSlot, keySlot int, err error) {
	if err = compileExpression(fc, m.Object); err != nil {
		return 0, 0, 0, err
	}
	objSlot = newTemp(fc)
	emit(fc, bytecode.OpStoreLocal, objSlot)
	emit(fc, bytecode.OpPop, 0)

	keySlot = -1
	if m.Computed {
		if err = compileExpression(fc, m.Property); err != nil {
			return 0, 0, 0, err
		}
		keySlot = newTemp(fc)
		emit(fc, bytecode.OpStoreLocal, keySlot)
		emit(fc, bytecode.OpPop, 0)
		return -1, objSlot, keySlot, nil
	}
	nameConst = addConstant(fc, m.Property.(*ast.Identifier).Name)
	return nameConst, objSlot, -1, nil
}

// compileMemberKey emits, for a computed member, the property-key
// expression onto the stack (leaving it for GetProperty/SetProperty to
// consume as operand -1), and for a static member returns the constant
// pool index of its name.
func compileMemberKey(fc *funcCompiler, m *ast.MemberExpression) (int, bool, error) {
	if m.Computed {
		if err := compileExpression(fc, m.Property); err != nil {
			return 0, false, err
		}
		return -1, true, nil
	}
	name := m.Property.(*ast.Identifier).Name
	return addConstant(fc, name), false, nil
}

func compileMemberLoad(fc *funcCompiler, e *ast.MemberExpression) error {
	if err := compileExpression(fc, e.Object); err != nil {
		return err
	}
	nameConst, _, err := compileMemberKey(fc, e)
	if err != nil {
		return err
	}
	emit(fc, bytecode.OpGetProperty, nameConst)
	return nil
}

func compileBinary(fc *funcCompiler, e *ast.BinaryExpression) error {
	if err := compileExpression(fc, e.Left); err != nil {
		return err
	}
	if err := compileExpression(fc, e.Right); err != nil {
		return err
	}
	op, ok := binaryOps[e.Operator]
	if !ok {
		return fmt.Errorf("compiler: unknown binary operator %q", e.Operator)
	}
	emit(fc, op, 0)
	return nil
}

var binaryOps = map[string]bytecode.Opcode{
	"+": bytecode.OpAdd, "-": bytecode.OpSub, "*": bytecode.OpMul, "/": bytecode.OpDiv,
	"%": bytecode.OpMod, "**": bytecode.OpPow,
	"&": bytecode.OpBitAnd, "|": bytecode.OpBitOr, "^": bytecode.OpBitXor,
	"<<": bytecode.OpShl, ">>": bytecode.OpShr, ">>>": bytecode.OpUshr,
	"<": bytecode.OpLt, "<=": bytecode.OpLe, ">": bytecode.OpGt, ">=": bytecode.OpGe,
	"==": bytecode.OpEq, "!=": bytecode.OpNe, "===": bytecode.OpStrictEq, "!==": bytecode.OpStrictNe,
	"instanceof": bytecode.OpInstanceOf, "in": bytecode.OpIn,
}

func compileLogical(fc *funcCompiler, e *ast.LogicalExpression) error {
	if err := compileExpression(fc, e.Left); err != nil {
		return err
	}
	emit(fc, bytecode.OpDup, 0)
	var skip int
	if e.Operator == "&&" {
		skip = emit(fc, bytecode.OpJumpIfFalse, 0)
	} else {
		skip = emit(fc, bytecode.OpJumpIfTrue, 0)
	}
	emit(fc, bytecode.OpPop, 0)
	if err := compileExpression(fc, e.Right); err != nil {
		return err
	}
	patchTo(fc, skip, here(fc))
	return nil
}

func compileConditional(fc *funcCompiler, e *ast.ConditionalExpression) error {
	if err := compileExpression(fc, e.Test); err != nil {
		return err
	}
	jumpElse := emit(fc, bytecode.OpJumpIfFalse, 0)
	if err := compileExpression(fc, e.Consequent); err != nil {
		return err
	}
	jumpEnd := emit(fc, bytecode.OpJump, 0)
	patchTo(fc, jumpElse, here(fc))
	if err := compileExpression(fc, e.Alternate); err != nil {
		return err
	}
	patchTo(fc, jumpEnd, here(fc))
	return nil
}

var compoundOps = map[string]bytecode.Opcode{
	"+=": bytecode.OpAdd, "-=": bytecode.OpSub, "*=": bytecode.OpMul, "/=": bytecode.OpDiv,
}

// compileAssignment relies on Store*/SetProperty pushing the written
// value back onto the stack, so assignment naturally evaluates to the
// value assigned (spec.md ES3 assignment-expression semantics) without
// any extra Dup bookkeeping.
func compileAssignment(fc *funcCompiler, e *ast.AssignmentExpression) error {
	switch target := e.Target.(type) {
	case *ast.Identifier:
		if e.Operator != "=" {
			compileIdentifierLoad(fc, target.Name)
			if err := compileExpression(fc, e.Value); err != nil {
				return err
			}
			emit(fc, compoundOps[e.Operator], 0)
		} else {
			if err := compileExpression(fc, e.Value); err != nil {
				return err
			}
		}
		compileIdentifierStore(fc, target.Name)
		return nil

	case *ast.MemberExpression:
		return compileMemberAssign(fc, target, e.Operator, e.Value)

	default:
		return fmt.Errorf("compiler: invalid assignment target %T", e.Target)
	}
}

// compileMemberAssign mirrors compileMemberUpdate's temp-local approach:
// object and key are evaluated once, then reloaded for the optional
// compound-op read and for the final SetProperty write.
func compileMemberAssign(fc *funcCompiler, target *ast.MemberExpression, operator string, value ast.Expression) error {
	nameConst, objSlot, keySlot, err := stashMemberTarget(fc, target)
	if err != nil {
		return err
	}

	loadTarget := func() {
		emit(fc, bytecode.OpLoadLocal, objSlot)
		if keySlot >= 0 {
			emit(fc, bytecode.OpLoadLocal, keySlot)
		}
	}

	if operator != "=" {
		loadTarget()
		emit(fc, bytecode.OpGetProperty, nameConst)
		if err := compileExpression(fc, value); err != nil {
			return err
		}
		emit(fc, compoundOps[operator], 0)
	} else {
		if err := compileExpression(fc, value); err != nil {
			return err
		}
	}

	valSlot := newTemp(fc)
	emit(fc, bytecode.OpStoreLocal, valSlot)
	emit(fc, bytecode.OpPop, 0)

	loadTarget()
	emit(fc, bytecode.OpLoadLocal, valSlot)
	emit(fc, bytecode.OpSetProperty, nameConst)
	return nil
}

func compileCall(fc *funcCompiler, e *ast.CallExpression) error {
	if m, ok := e.Callee.(*ast.MemberExpression); ok {
		if err := compileExpression(fc, m.Object); err != nil {
			return err
		}
		emit(fc, bytecode.OpDup, 0) // receiver kept for the method's `this`
		nameConst, _, err := compileMemberKey(fc, m)
		if err != nil {
			return err
		}
		emit(fc, bytecode.OpGetProperty, nameConst)
		for _, a := range e.Args {
			if err := compileExpression(fc, a); err != nil {
				return err
			}
		}
		emit(fc, bytecode.OpCall, len(e.Args)|methodCallFlag)
		return nil
	}

	if err := compileExpression(fc, e.Callee); err != nil {
		return err
	}
	for _, a := range e.Args {
		if err := compileExpression(fc, a); err != nil {
			return err
		}
	}
	emit(fc, bytecode.OpCall, len(e.Args))
	return nil
}

// methodCallFlag marks an OpCall operand as a method call, where the
// stack already carries an explicit receiver beneath the callee, per
// spec.md §4.6's method-marker dispatch for primitives.
const methodCallFlag = 1 << 17
