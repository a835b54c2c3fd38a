package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/nyx/pkg/bytecode"
	"github.com/kristofer/nyx/pkg/parser"
)

func compileSrc(t *testing.T, src string) *bytecode.Bytecode {
	t.Helper()
	prog, err := parser.New(src).Parse()
	require.NoError(t, err)
	bc, err := New().Compile(prog)
	require.NoError(t, err)
	return bc
}

func opcodes(bc *bytecode.Bytecode) []bytecode.Opcode {
	ops := make([]bytecode.Opcode, len(bc.Instructions))
	for i, instr := range bc.Instructions {
		ops[i] = instr.Op
	}
	return ops
}

func TestCompileArithmeticEndsInHalt(t *testing.T) {
	bc := compileSrc(t, "let x = 1 + 2 * 3;")
	ops := opcodes(bc)
	assert.Contains(t, ops, bytecode.OpAdd)
	assert.Contains(t, ops, bytecode.OpMul)
	assert.Equal(t, bytecode.OpHalt, ops[len(ops)-1])
}

func TestCompileVariableLoadStore(t *testing.T) {
	bc := compileSrc(t, "let x = 1; x = x + 1;")
	ops := opcodes(bc)
	assert.Contains(t, ops, bytecode.OpStoreLocal)
	assert.Contains(t, ops, bytecode.OpLoadLocal)
}

func TestCompileIfElseEmitsJumps(t *testing.T) {
	bc := compileSrc(t, "if (x) { y(); } else { z(); }")
	ops := opcodes(bc)
	assert.Contains(t, ops, bytecode.OpJumpIfFalse)
	assert.Contains(t, ops, bytecode.OpJump)
}

func TestCompileWhileLoopBackpatchesJumps(t *testing.T) {
	bc := compileSrc(t, "while (x) { y(); }")
	var sawBackJump bool
	for i, instr := range bc.Instructions {
		if instr.Op == bytecode.OpJump && instr.Operand < i {
			sawBackJump = true
		}
	}
	assert.True(t, sawBackJump, "while loop must jump back to its test")
}

func TestCompileBreakContinueInLoop(t *testing.T) {
	bc := compileSrc(t, "while (x) { if (y) { break; } continue; }")
	ops := opcodes(bc)
	// both break and continue lower to Jump; ensure at least two besides
	// the loop's own backward jump.
	count := 0
	for _, op := range ops {
		if op == bytecode.OpJump {
			count++
		}
	}
	assert.GreaterOrEqual(t, count, 3)
}

func TestCompileForInUsesIterationOpcodes(t *testing.T) {
	bc := compileSrc(t, "for (let k in obj) { use(k); }")
	ops := opcodes(bc)
	assert.Contains(t, ops, bytecode.OpForInInit)
	assert.Contains(t, ops, bytecode.OpForInNext)
	assert.Contains(t, ops, bytecode.OpForInDone)
}

func TestCompileSwitchStatement(t *testing.T) {
	bc := compileSrc(t, "switch (x) { case 1: a(); break; default: b(); }")
	ops := opcodes(bc)
	assert.Contains(t, ops, bytecode.OpStrictEq)
	assert.Contains(t, ops, bytecode.OpJumpIfTrue)
}

func TestCompileTryCatchFinallyRecordsHandler(t *testing.T) {
	bc := compileSrc(t, "try { risky(); } catch (e) { handle(e); } finally { cleanup(); }")
	require.Len(t, bc.Handlers, 1)
	h := bc.Handlers[0]
	assert.True(t, h.HasCatch)
	assert.Equal(t, "e", h.CatchParam)
	assert.True(t, h.HasFinally)
}

func TestCompileWithStatementEmitsScopeOpcodes(t *testing.T) {
	bc := compileSrc(t, "with (obj) { x = 1; }")
	ops := opcodes(bc)
	assert.Contains(t, ops, bytecode.OpWithEnter)
	assert.Contains(t, ops, bytecode.OpWithExit)
}

func TestCompileFunctionDeclarationMakesClosure(t *testing.T) {
	bc := compileSrc(t, "function add(a, b) { return a + b; } add(1, 2);")
	ops := opcodes(bc)
	assert.Contains(t, ops, bytecode.OpMakeClosure)
	assert.Contains(t, ops, bytecode.OpCall)

	var tmpl *bytecode.FunctionTemplate
	for _, c := range bc.Constants {
		if t2, ok := c.(*bytecode.FunctionTemplate); ok {
			tmpl = t2
		}
	}
	require.NotNil(t, tmpl)
	assert.Equal(t, "add", tmpl.Name)
	assert.Equal(t, 2, tmpl.ParamCount)
}

func TestCompileNestedClosureCapturesOuterLocal(t *testing.T) {
	src := `
	function outer() {
		let x = 1;
		function inner() {
			return x;
		}
		return inner;
	}
	`
	bc := compileSrc(t, src)

	var outerTmpl *bytecode.FunctionTemplate
	for _, c := range bc.Constants {
		if t2, ok := c.(*bytecode.FunctionTemplate); ok && t2.Name == "outer" {
			outerTmpl = t2
		}
	}
	require.NotNil(t, outerTmpl)

	var innerTmpl *bytecode.FunctionTemplate
	for _, c := range outerTmpl.Code.Constants {
		if t2, ok := c.(*bytecode.FunctionTemplate); ok && t2.Name == "inner" {
			innerTmpl = t2
		}
	}
	require.NotNil(t, innerTmpl)
	assert.Equal(t, []string{"x"}, innerTmpl.Captures)

	// outer's own body must store x to globals before MakeClosure so the
	// VM can snapshot it for inner's invocation.
	foundStoreBeforeClosure := false
	for i, instr := range outerTmpl.Code.Instructions {
		if instr.Op == bytecode.OpMakeClosure {
			for j := i - 1; j >= 0; j-- {
				if outerTmpl.Code.Instructions[j].Op == bytecode.OpStoreGlobal {
					foundStoreBeforeClosure = true
					break
				}
			}
		}
	}
	assert.True(t, foundStoreBeforeClosure)
}

func TestCompileMemberAccessAndCall(t *testing.T) {
	bc := compileSrc(t, "obj.method(1);")
	ops := opcodes(bc)
	assert.Contains(t, ops, bytecode.OpGetProperty)
	assert.Contains(t, ops, bytecode.OpCall)
}

func TestCompileArrayAndObjectLiterals(t *testing.T) {
	bc := compileSrc(t, "[1, 2, 3];")
	ops := opcodes(bc)
	assert.Contains(t, ops, bytecode.OpNewArray)

	bc2 := compileSrc(t, "({a: 1});")
	ops2 := opcodes(bc2)
	assert.Contains(t, ops2, bytecode.OpNewObject)
	assert.Contains(t, ops2, bytecode.OpSetProperty)
}

func TestCompileLogicalShortCircuit(t *testing.T) {
	bc := compileSrc(t, "a && b;")
	ops := opcodes(bc)
	assert.Contains(t, ops, bytecode.OpJumpIfFalse)
}

func TestCompileFunctionParamsOccupyLowSlots(t *testing.T) {
	bc := compileSrc(t, "function add(a, b) { return a + b; }")
	var tmpl *bytecode.FunctionTemplate
	for _, c := range bc.Constants {
		if t2, ok := c.(*bytecode.FunctionTemplate); ok {
			tmpl = t2
		}
	}
	require.NotNil(t, tmpl)
	var loadedSlots []int
	for _, instr := range tmpl.Code.Instructions {
		if instr.Op == bytecode.OpLoadLocal {
			loadedSlots = append(loadedSlots, instr.Operand)
		}
	}
	assert.Contains(t, loadedSlots, 0)
	assert.Contains(t, loadedSlots, 1)
}

func TestCompileRecursiveNamedFunctionUsesSelfSlot(t *testing.T) {
	bc := compileSrc(t, "function fact(n) { return n <= 1 ? 1 : n * fact(n - 1); }")
	var tmpl *bytecode.FunctionTemplate
	for _, c := range bc.Constants {
		if t2, ok := c.(*bytecode.FunctionTemplate); ok && t2.Name == "fact" {
			tmpl = t2
		}
	}
	require.NotNil(t, tmpl)
	assert.GreaterOrEqual(t, tmpl.SelfSlot, 0)
	assert.NotContains(t, tmpl.Captures, "fact")

	var loadedSelf bool
	for _, instr := range tmpl.Code.Instructions {
		if instr.Op == bytecode.OpLoadLocal && instr.Operand == tmpl.SelfSlot {
			loadedSelf = true
		}
	}
	assert.True(t, loadedSelf, "recursive call should load the self slot, not a captured global")
}

func TestCompileUpdateExpression(t *testing.T) {
	bc := compileSrc(t, "let x = 0; x++;")
	ops := opcodes(bc)
	assert.Contains(t, ops, bytecode.OpAdd)
}
