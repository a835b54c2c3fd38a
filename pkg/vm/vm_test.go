package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/nyx/pkg/compiler"
	"github.com/kristofer/nyx/pkg/heap"
	"github.com/kristofer/nyx/pkg/parser"
	"github.com/kristofer/nyx/pkg/value"
)

// run compiles and executes src, which must end with an explicit
// `return <expr>;` — every other statement's value is discarded
// (spec.md's script bodies have no implicit completion value), so a
// top-level return is the only way to surface a result through Run.
func run(t *testing.T, src string) value.Value {
	t.Helper()
	prog, err := parser.New(src).Parse()
	require.NoError(t, err)
	bc, err := compiler.New().Compile(prog)
	require.NoError(t, err)
	v, err := New(heap.New()).Run(bc)
	require.NoError(t, err)
	return v
}

func TestArithmeticAndVariables(t *testing.T) {
	v := run(t, "let x = 1 + 2 * 3; return x;")
	assert.Equal(t, float64(7), v.ToNumber())
}

func TestStringConcatenation(t *testing.T) {
	v := run(t, `let a = "foo"; let b = "bar"; return a + b;`)
	assert.Equal(t, "foobar", v.AsString())
}

func TestClosureCapturesEnclosingVariable(t *testing.T) {
	v := run(t, `
		function makeCounter() {
			let count = 0;
			function increment() {
				count = count + 1;
				return count;
			}
			return increment;
		}
		let counter = makeCounter();
		counter();
		counter();
		return counter();
	`)
	assert.Equal(t, float64(3), v.ToNumber())
}

func TestRecursiveFactorialViaSelfSlot(t *testing.T) {
	v := run(t, `
		function factorial(n) {
			if (n <= 1) {
				return 1;
			}
			return n * factorial(n - 1);
		}
		return factorial(6);
	`)
	assert.Equal(t, float64(720), v.ToNumber())
}

func TestTryCatchBindsThrownValue(t *testing.T) {
	v := run(t, `
		let result = 0;
		try {
			throw "boom";
		} catch (e) {
			result = e;
		}
		return result;
	`)
	assert.Equal(t, "boom", v.AsString())
}

func TestTryFinallyRunsOnNormalExit(t *testing.T) {
	v := run(t, `
		let trace = "";
		try {
			trace = trace + "try";
		} finally {
			trace = trace + "finally";
		}
		return trace;
	`)
	assert.Equal(t, "tryfinally", v.AsString())
}

func TestTryFinallyRunsWhenExceptionPropagates(t *testing.T) {
	v := run(t, `
		let trace = "";
		try {
			try {
				throw "inner";
			} finally {
				trace = trace + "finally";
			}
		} catch (e) {
			trace = trace + e;
		}
		return trace;
	`)
	assert.Equal(t, "finallyinner", v.AsString())
}

func TestUncaughtThrowPropagatesAsThrownValue(t *testing.T) {
	prog, err := parser.New(`throw "uncatchable";`).Parse()
	require.NoError(t, err)
	bc, err := compiler.New().Compile(prog)
	require.NoError(t, err)
	_, err = New(heap.New()).Run(bc)
	require.Error(t, err)
	tv, ok := err.(*ThrownValue)
	require.True(t, ok, "expected a *ThrownValue, got %T", err)
	assert.Equal(t, "uncatchable", tv.Value.AsString())
}

func TestForInOverArrayVisitsIndices(t *testing.T) {
	v := run(t, `
		let arr = [10, 20, 30];
		let out = "";
		for (let k in arr) {
			out = out + k;
		}
		return out;
	`)
	assert.Equal(t, "012", v.AsString())
}

func TestForInBreakStillPopsIterator(t *testing.T) {
	v := run(t, `
		let arr = [1, 2, 3, 4];
		let seen = 0;
		for (let k in arr) {
			if (k == "2") {
				break;
			}
			seen = seen + 1;
		}
		for (let k in arr) {
			seen = seen + 1;
		}
		return seen;
	`)
	assert.Equal(t, float64(6), v.ToNumber())
}

func TestWithStatementResolvesPropertiesFromScopeChain(t *testing.T) {
	v := run(t, `
		let obj = { greeting: "hi" };
		let out;
		with (obj) {
			out = greeting;
		}
		return out;
	`)
	assert.Equal(t, "hi", v.AsString())
}

func TestObjectAndArrayLiteralsAndPropertyAccess(t *testing.T) {
	v := run(t, `
		let point = { x: 1, y: 2 };
		let arr = [point.x, point.y, point.x + point.y];
		return arr[2];
	`)
	assert.Equal(t, float64(3), v.ToNumber())
}

func TestInstanceOfWithConstructorFunction(t *testing.T) {
	v := run(t, `
		function Point(x, y) {
			this.x = x;
			this.y = y;
		}
		let p = new Point(3, 4);
		return p instanceof Point;
	`)
	assert.True(t, v.ToBoolean())
}

func TestInOperatorChecksOwnKeys(t *testing.T) {
	v := run(t, `
		let obj = { a: 1 };
		return "a" in obj;
	`)
	assert.True(t, v.ToBoolean())
}

func TestTypeOfUndeclaredGlobalIsSafe(t *testing.T) {
	v := run(t, `return typeof neverDeclared;`)
	assert.Equal(t, "undefined", v.AsString())
}

func TestDeleteRemovesOwnProperty(t *testing.T) {
	v := run(t, `
		let obj = { a: 1 };
		delete obj.a;
		return "a" in obj;
	`)
	assert.False(t, v.ToBoolean())
}

func TestMaxCallDepthRaisesRangeError(t *testing.T) {
	prog, err := parser.New(`
		function loop() {
			return loop();
		}
		return loop();
	`).Parse()
	require.NoError(t, err)
	bc, err := compiler.New().Compile(prog)
	require.NoError(t, err)
	machine := New(heap.New())
	_, err = machine.Run(bc)
	require.Error(t, err)
	tv, ok := err.(*ThrownValue)
	require.True(t, ok, "expected a *ThrownValue, got %T", err)
	obj, ok := machine.Heap.Get(tv.Value.AsHandle())
	require.True(t, ok)
	name, _ := obj.Get("name")
	msg, _ := obj.Get("message")
	assert.Equal(t, "RangeError", name.AsString())
	assert.Contains(t, msg.AsString(), "Maximum call stack size exceeded")
}
