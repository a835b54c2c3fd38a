package bytecode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	bc := &Bytecode{
		Instructions: []Instruction{
			{Op: OpLoadConst, Operand: 0},
			{Op: OpLoadConst, Operand: 1},
			{Op: OpAdd},
			{Op: OpReturn},
		},
		Constants: []interface{}{float64(1), float64(2)},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(bc, &buf))

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, bc.Instructions, decoded.Instructions)
	assert.Equal(t, bc.Constants, decoded.Constants)
}

func TestEncodeDecodeAllConstantTypes(t *testing.T) {
	bc := &Bytecode{
		Instructions: []Instruction{{Op: OpHalt}},
		Constants:    []interface{}{float64(3.14), "hello", true, false, Undefined, Null},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(bc, &buf))

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, decoded.Constants, len(bc.Constants))
	assert.Equal(t, bc.Constants, decoded.Constants)
}

func TestEncodeDecodeNestedFunctionTemplate(t *testing.T) {
	inner := &Bytecode{
		Instructions: []Instruction{{Op: OpLoadLocal, Operand: 0}, {Op: OpReturn}},
		Constants:    []interface{}{},
	}
	tmpl := &FunctionTemplate{
		Name: "add", ParamCount: 2, NumLocals: 2,
		Captures: []string{"outer"},
		SelfSlot: 2,
		Code:     inner,
	}
	bc := &Bytecode{
		Instructions: []Instruction{{Op: OpMakeClosure, Operand: 0}, {Op: OpReturn}},
		Constants:    []interface{}{tmpl},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(bc, &buf))

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	got, ok := decoded.Constants[0].(*FunctionTemplate)
	require.True(t, ok)
	assert.Equal(t, "add", got.Name)
	assert.Equal(t, []string{"outer"}, got.Captures)
	assert.Equal(t, 2, got.SelfSlot)
	assert.Equal(t, inner.Instructions, got.Code.Instructions)
}

func TestEncodeDecodeTryHandlers(t *testing.T) {
	bc := &Bytecode{
		Instructions: []Instruction{{Op: OpNop}, {Op: OpNop}, {Op: OpNop}},
		Constants:    []interface{}{},
		Handlers: []TryHandler{
			{StartPC: 0, EndPC: 1, HasCatch: true, CatchPC: 2, CatchParam: "e", HasFinally: true, FinallyPC: 3},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(bc, &buf))
	decoded, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, decoded.Handlers, 1)
	assert.Equal(t, bc.Handlers[0], decoded.Handlers[0])
}

func TestDecodeRejectsBadMagicNumber(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0})
	_, err := Decode(buf)
	require.Error(t, err)
}

func TestDisassembleIncludesOperands(t *testing.T) {
	bc := &Bytecode{
		Instructions: []Instruction{
			{Op: OpLoadConst, Operand: 0},
			{Op: OpStoreLocal, Operand: 1},
			{Op: OpHalt},
		},
		Constants: []interface{}{"x"},
	}
	out := Disassemble(bc)
	assert.Contains(t, out, "LOAD_CONST")
	assert.Contains(t, out, `"x"`)
	assert.Contains(t, out, "STORE_LOCAL")
	assert.Contains(t, out, "1")
	assert.Contains(t, out, "HALT")
}
