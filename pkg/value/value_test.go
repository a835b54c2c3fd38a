package value

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToBoolean(t *testing.T) {
	assert.False(t, Undefined.ToBoolean())
	assert.False(t, Null.ToBoolean())
	assert.False(t, Number(0).ToBoolean())
	assert.False(t, Number(math.NaN()).ToBoolean())
	assert.False(t, String("").ToBoolean())
	assert.True(t, Number(1).ToBoolean())
	assert.True(t, String("x").ToBoolean())
	assert.True(t, True.ToBoolean())
	assert.False(t, False.ToBoolean())
	assert.True(t, Object(NewHandle(Young, 0)).ToBoolean())
}

func TestToNumber(t *testing.T) {
	assert.True(t, math.IsNaN(Undefined.ToNumber()))
	assert.Equal(t, float64(0), Null.ToNumber())
	assert.Equal(t, float64(1), True.ToNumber())
	assert.Equal(t, float64(0), False.ToNumber())
	assert.Equal(t, float64(42), String("42").ToNumber())
	assert.Equal(t, float64(0), String("").ToNumber())
	assert.True(t, math.IsNaN(String("abc").ToNumber()))
	assert.Equal(t, float64(255), String("0xff").ToNumber())
}

func TestToInt32TruncatesModulo2to32(t *testing.T) {
	assert.Equal(t, int32(1), Number(1.9).ToInt32())
	assert.Equal(t, int32(-1), Number(-1.9).ToInt32())
	assert.Equal(t, int32(0), Number(math.NaN()).ToInt32())
	assert.Equal(t, int32(0), Number(4294967296).ToInt32())
}

func TestToStringFormatsNumbers(t *testing.T) {
	assert.Equal(t, "undefined", Undefined.ToString())
	assert.Equal(t, "null", Null.ToString())
	assert.Equal(t, "true", True.ToString())
	assert.Equal(t, "42", Number(42).ToString())
	assert.Equal(t, "-1.5", Number(-1.5).ToString())
	assert.Equal(t, "NaN", Number(math.NaN()).ToString())
	assert.Equal(t, "Infinity", Number(math.Inf(1)).ToString())
	assert.Equal(t, "hello", String("hello").ToString())
	assert.Equal(t, "123n", BigInt(big.NewInt(123)).ToString())
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, "undefined", Undefined.TypeOf())
	assert.Equal(t, "object", Null.TypeOf()) // ES3 quirk
	assert.Equal(t, "boolean", True.TypeOf())
	assert.Equal(t, "number", Number(1).TypeOf())
	assert.Equal(t, "string", String("x").TypeOf())
	assert.Equal(t, "bigint", BigInt(big.NewInt(1)).TypeOf())
	assert.Equal(t, "symbol", NewSymbol(1).TypeOf())
	assert.Equal(t, "object", Object(NewHandle(Young, 0)).TypeOf())
	assert.Equal(t, "function", Function(NewHandle(Young, 0)).TypeOf())
}

func TestHandleRegionAndIndex(t *testing.T) {
	h := NewHandle(Young, 42)
	assert.Equal(t, Young, h.Region())
	assert.Equal(t, uint32(42), h.Index())

	old := NewHandle(Old, 7)
	assert.Equal(t, Old, old.Region())
	assert.Equal(t, uint32(7), old.Index())
}

func TestStrictEqNaNNeverEqualsItself(t *testing.T) {
	nan := Number(math.NaN())
	assert.False(t, StrictEq(nan, nan))
}

func TestStrictEqRequiresSameType(t *testing.T) {
	assert.False(t, StrictEq(Number(1), String("1")))
	assert.True(t, StrictEq(Number(1), Number(1)))
	assert.True(t, StrictEq(Undefined, Undefined))
	assert.False(t, StrictEq(Undefined, Null))
}

func TestStrictEqHandlesByIdentity(t *testing.T) {
	h1 := NewHandle(Young, 1)
	h2 := NewHandle(Young, 2)
	assert.True(t, StrictEq(Object(h1), Object(h1)))
	assert.False(t, StrictEq(Object(h1), Object(h2)))
}

func TestEqNullUndefinedOnlyEqualEachOther(t *testing.T) {
	assert.True(t, Eq(Null, Undefined, nil))
	assert.True(t, Eq(Undefined, Null, nil))
	assert.False(t, Eq(Null, Number(0), nil))
}

func TestEqNumberString(t *testing.T) {
	assert.True(t, Eq(Number(42), String("42"), nil))
	assert.True(t, Eq(String("42"), Number(42), nil))
	assert.False(t, Eq(Number(42), String("abc"), nil))
}

func TestEqBooleanCoercesToNumber(t *testing.T) {
	assert.True(t, Eq(True, Number(1), nil))
	assert.True(t, Eq(False, Number(0), nil))
	assert.True(t, Eq(True, String("1"), nil))
}

func TestEqObjectVsPrimitiveDivergesToFalse(t *testing.T) {
	assert.False(t, Eq(Object(NewHandle(Young, 0)), Number(1), nil))
	assert.False(t, Eq(Number(1), Object(NewHandle(Young, 0)), nil))
}

func TestAddConcatenatesWhenEitherOperandIsString(t *testing.T) {
	got := Add(String("a"), Number(1), nil)
	assert.True(t, got.IsString())
	assert.Equal(t, "a1", got.AsString())
}

func TestAddNumericWhenNeitherIsString(t *testing.T) {
	got := Add(Number(1), Number(2), nil)
	assert.True(t, got.IsNumber())
	assert.Equal(t, float64(3), got.AsNumber())
}

func TestAddBigInt(t *testing.T) {
	got := Add(BigInt(big.NewInt(2)), BigInt(big.NewInt(3)), nil)
	assert.True(t, got.IsBigInt())
	assert.Equal(t, "5", got.AsBigInt().String())
}

func TestAddUsesToPrimitiveHookForObjects(t *testing.T) {
	hook := func(v Value) Value { return String("[obj]") }
	got := Add(Object(NewHandle(Young, 0)), String("!"), hook)
	assert.Equal(t, "[obj]!", got.AsString())
}

func TestRelationalOperatorsConvertToNumber(t *testing.T) {
	assert.True(t, Lt(Number(1), Number(2)))
	assert.True(t, Le(Number(2), Number(2)))
	assert.True(t, Gt(Number(3), Number(2)))
	assert.True(t, Ge(Number(2), Number(2)))
	assert.False(t, Lt(Number(math.NaN()), Number(1)))
}
