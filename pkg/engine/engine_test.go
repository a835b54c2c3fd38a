package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/nyx/pkg/value"
)

// eval is a small helper mirroring pkg/vm's own run helper, but going
// through the public Engine API (including the builtin registry) the
// way a host embedding nyx actually would.
func eval(t *testing.T, src string) float64 {
	t.Helper()
	e := New()
	v, err := e.Eval(src)
	require.NoError(t, err)
	return v.ToNumber()
}

// Seed scenario 1 (spec.md §8): arithmetic coercion.
func TestArithmeticCoercion(t *testing.T) {
	e := New()

	v, err := e.Eval(`"2" + 3;`)
	require.NoError(t, err)
	assert.Equal(t, "23", v.ToString())

	v, err = e.Eval(`"2" * "3";`)
	require.NoError(t, err)
	assert.Equal(t, float64(6), v.ToNumber())

	v, err = e.Eval(`"x" - 1;`)
	require.NoError(t, err)
	assert.True(t, v.IsNumber())
	assert.True(t, v.ToNumber() != v.ToNumber()) // NaN is never equal to itself
}

// Seed scenario 2: closures observe the latest mutation across calls.
func TestClosureWithMutationAcrossCalls(t *testing.T) {
	v := eval(t, `
		function counter(){ let n = 0; return function(){ n = n + 1; return n; }; }
		let c = counter(); c(); c(); c();
	`)
	assert.Equal(t, float64(3), v)
}

// Seed scenario 3: labelled break unwinds to the outer loop.
func TestLabelledBreak(t *testing.T) {
	v := eval(t, `
		let s = 0;
		outer: for (let i=0;i<5;i=i+1)
		  for (let j=0;j<5;j=j+1){
		    if (i*j>6) break outer;
		    s = s + 1;
		  }
		s;
	`)
	assert.Equal(t, float64(13), v)
}

// Seed scenario 4: Array.prototype.sort/join.
func TestArraySortJoin(t *testing.T) {
	e := New()
	v, err := e.Eval(`[3,1,2].sort().join("-");`)
	require.NoError(t, err)
	assert.Equal(t, "1-2-3", v.ToString())
}

// Seed scenario 5: prototype chain established via a constructor call.
func TestConstructorPrototypeChain(t *testing.T) {
	v := eval(t, `function P(){ this.x = 1; } let p = new P(); p.x;`)
	assert.Equal(t, float64(1), v)
}

// Seed scenario 6: GC smoke test. Allocating many short-lived objects
// in a loop and forcing a major collection must actually reclaim
// memory. GC roots are globals only, so once Eval returns none of the
// loop's objects (held in the local `last`) is rooted.
func TestGCSmokeReclaimsUnreachableObjects(t *testing.T) {
	e := New()
	_, err := e.Eval(`
		let last = null;
		for (let i = 0; i < 50000; i = i + 1) {
			last = { n: i };
		}
		last;
	`)
	require.NoError(t, err)

	e.MajorGC()
	stats := e.Stats()
	assert.Greater(t, stats.BytesFreed, 0)
}

// Boundary behavior: 32-bit two's-complement shifts.
func TestBoundaryShiftSemantics(t *testing.T) {
	assert.Equal(t, float64(-2147483648), eval(t, `1 << 31;`))
	assert.Equal(t, float64(4294967295), eval(t, `(-1) >>> 0;`))
}

// Boundary behavior: NaN and nullish equality.
func TestBoundaryNaNAndNullishEquality(t *testing.T) {
	e := New()

	v, err := e.Eval(`NaN !== NaN;`)
	require.NoError(t, err)
	assert.True(t, v.ToBoolean())

	v, err = e.Eval(`NaN == NaN;`)
	require.NoError(t, err)
	assert.False(t, v.ToBoolean())

	v, err = e.Eval(`null == undefined;`)
	require.NoError(t, err)
	assert.True(t, v.ToBoolean())

	v, err = e.Eval(`null === undefined;`)
	require.NoError(t, err)
	assert.False(t, v.ToBoolean())
}

// Boundary behavior: binary floating point is not exact.
func TestBoundaryFloatImprecision(t *testing.T) {
	e := New()
	v, err := e.Eval(`(0.1 + 0.2) === 0.3;`)
	require.NoError(t, err)
	assert.False(t, v.ToBoolean())

	v, err = e.Eval(`0.1 + 0.2;`)
	require.NoError(t, err)
	assert.Equal(t, 0.30000000000000004, v.ToNumber())
}

// Round-trip: JSON.stringify/parse over an acyclic plain value.
func TestJSONRoundTrip(t *testing.T) {
	e := New()
	v, err := e.Eval(`JSON.stringify(JSON.parse(JSON.stringify({a:1,b:[1,2,3],c:"x"})));`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":[1,2,3],"c":"x"}`, v.ToString())
}

// try/catch/finally and a thrown value escaping as Uncaught.
func TestThrowCaughtAndUncaught(t *testing.T) {
	v := eval(t, `
		let result = 0;
		try {
			throw 5;
		} catch (e) {
			result = e + 1;
		} finally {
			result = result + 10;
		}
		result;
	`)
	assert.Equal(t, float64(16), v)

	e := New()
	_, err := e.Eval(`throw "boom";`)
	require.Error(t, err)
}

// for-in visits enumerable own property names.
func TestForIn(t *testing.T) {
	v := eval(t, `
		let obj = {a: 1, b: 2, c: 3};
		let total = 0;
		for (let k in obj) {
			total = total + obj[k];
		}
		total;
	`)
	assert.Equal(t, float64(6), v)
}

// RegisterNative installs a host function reachable from script code.
func TestRegisterNative(t *testing.T) {
	e := New()
	e.RegisterNative("double", 1, func(this value.Value, args []value.Value) (value.Value, error) {
		return value.Number(args[0].ToNumber() * 2), nil
	})
	v, err := e.Eval(`double(21);`)
	require.NoError(t, err)
	assert.Equal(t, float64(42), v.ToNumber())
}
