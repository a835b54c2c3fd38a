package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/nyx/pkg/ast"
)

func parseOne(t *testing.T, src string) ast.Statement {
	t.Helper()
	prog, err := New(src).Parse()
	require.NoError(t, err)
	require.Len(t, prog.Statements, 1)
	return prog.Statements[0]
}

func TestParseVariableDeclaration(t *testing.T) {
	stmt := parseOne(t, "let x = 1 + 2;")
	decl, ok := stmt.(*ast.VariableDeclaration)
	require.True(t, ok)
	assert.Equal(t, ast.VarLet, decl.Kind)
	require.Len(t, decl.Declarators, 1)
	assert.Equal(t, "x", decl.Declarators[0].Name)
	bin, ok := decl.Declarators[0].Init.(*ast.BinaryExpression)
	require.True(t, ok)
	assert.Equal(t, "+", bin.Operator)
}

func TestOperatorPrecedence(t *testing.T) {
	cases := []struct {
		src  string
		want string // informal shape check via type assertions below
	}{
		{"1 + 2 * 3", "mul-under-add"},
		{"2 ** 3 ** 2", "pow-right-assoc"},
		{"a || b && c", "and-under-or"},
	}
	for _, c := range cases {
		stmt := parseOne(t, c.src+";")
		es, ok := stmt.(*ast.ExpressionStatement)
		require.True(t, ok, c.src)
		switch c.want {
		case "mul-under-add":
			bin := es.Expression.(*ast.BinaryExpression)
			assert.Equal(t, "+", bin.Operator)
			_, ok := bin.Right.(*ast.BinaryExpression)
			assert.True(t, ok)
		case "pow-right-assoc":
			bin := es.Expression.(*ast.BinaryExpression)
			assert.Equal(t, "**", bin.Operator)
			_, leftIsBinary := bin.Left.(*ast.BinaryExpression)
			assert.False(t, leftIsBinary, "** must be right-associative")
			_, rightIsBinary := bin.Right.(*ast.BinaryExpression)
			assert.True(t, rightIsBinary)
		case "and-under-or":
			lo := es.Expression.(*ast.LogicalExpression)
			assert.Equal(t, "||", lo.Operator)
			_, ok := lo.Right.(*ast.LogicalExpression)
			assert.True(t, ok)
		}
	}
}

func TestConditionalAndAssignmentAssociativity(t *testing.T) {
	stmt := parseOne(t, "x = y = 1 ? 2 : 3;")
	es := stmt.(*ast.ExpressionStatement)
	outer := es.Expression.(*ast.AssignmentExpression)
	assert.Equal(t, "=", outer.Operator)
	inner, ok := outer.Value.(*ast.AssignmentExpression)
	require.True(t, ok, "assignment must be right-associative")
	_, ok = inner.Value.(*ast.ConditionalExpression)
	assert.True(t, ok)
}

func TestIfElseStatement(t *testing.T) {
	stmt := parseOne(t, "if (x) { y(); } else { z(); }")
	ifs, ok := stmt.(*ast.IfStatement)
	require.True(t, ok)
	assert.NotNil(t, ifs.Consequent)
	assert.NotNil(t, ifs.Alternate)
}

func TestForInAndForOf(t *testing.T) {
	stmt := parseOne(t, "for (let k in obj) { use(k); }")
	fin, ok := stmt.(*ast.ForInStatement)
	require.True(t, ok)
	assert.False(t, fin.Of)
	assert.Equal(t, "k", fin.Name)

	stmt2 := parseOne(t, "for (const v of arr) { use(v); }")
	fof, ok := stmt2.(*ast.ForInStatement)
	require.True(t, ok)
	assert.True(t, fof.Of)
	assert.Equal(t, "v", fof.Name)
}

func TestCStyleForStatement(t *testing.T) {
	stmt := parseOne(t, "for (let i = 0; i < 10; i = i + 1) { sum(i); }")
	f, ok := stmt.(*ast.ForStatement)
	require.True(t, ok)
	assert.NotNil(t, f.Init)
	assert.NotNil(t, f.Test)
	assert.NotNil(t, f.Update)
}

func TestTryCatchFinally(t *testing.T) {
	stmt := parseOne(t, "try { risky(); } catch (e) { handle(e); } finally { cleanup(); }")
	tr, ok := stmt.(*ast.TryStatement)
	require.True(t, ok)
	assert.True(t, tr.HasCatch)
	assert.Equal(t, "e", tr.CatchParam)
	assert.True(t, tr.HasFinally)
}

func TestSwitchStatement(t *testing.T) {
	stmt := parseOne(t, "switch (x) { case 1: a(); break; default: b(); }")
	sw, ok := stmt.(*ast.SwitchStatement)
	require.True(t, ok)
	require.Len(t, sw.Cases, 2)
	assert.NotNil(t, sw.Cases[0].Test)
	assert.Nil(t, sw.Cases[1].Test)
}

func TestLabeledBreakContinue(t *testing.T) {
	stmt := parseOne(t, "outer: while (x) { break outer; }")
	lbl, ok := stmt.(*ast.WhileStatement)
	require.True(t, ok)
	assert.Equal(t, "outer", lbl.Label)
}

func TestArrowFunctionExpression(t *testing.T) {
	stmt := parseOne(t, "const f = (a, b) => a + b;")
	decl := stmt.(*ast.VariableDeclaration)
	fn, ok := decl.Declarators[0].Init.(*ast.FunctionLiteral)
	require.True(t, ok)
	assert.True(t, fn.Arrow)
	assert.Equal(t, []string{"a", "b"}, fn.Params)
	require.Len(t, fn.Body, 1)
	_, ok = fn.Body[0].(*ast.ReturnStatement)
	assert.True(t, ok)
}

func TestSingleParamArrowFunction(t *testing.T) {
	stmt := parseOne(t, "const f = x => x * 2;")
	decl := stmt.(*ast.VariableDeclaration)
	fn, ok := decl.Declarators[0].Init.(*ast.FunctionLiteral)
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, fn.Params)
}

func TestMemberAndOptionalChaining(t *testing.T) {
	stmt := parseOne(t, "a?.b.c;")
	es := stmt.(*ast.ExpressionStatement)
	outer, ok := es.Expression.(*ast.MemberExpression)
	require.True(t, ok)
	assert.False(t, outer.Optional)
	inner, ok := outer.Object.(*ast.MemberExpression)
	require.True(t, ok)
	assert.True(t, inner.Optional)
}

func TestNewExpression(t *testing.T) {
	stmt := parseOne(t, "new Foo(1, 2);")
	es := stmt.(*ast.ExpressionStatement)
	ne, ok := es.Expression.(*ast.NewExpression)
	require.True(t, ok)
	require.Len(t, ne.Args, 2)
}

func TestObjectAndArrayLiterals(t *testing.T) {
	stmt := parseOne(t, `({a: 1, b: 2});`)
	es := stmt.(*ast.ExpressionStatement)
	obj, ok := es.Expression.(*ast.ObjectLiteral)
	require.True(t, ok)
	require.Len(t, obj.Properties, 2)

	stmt2 := parseOne(t, "[1, 2, 3];")
	es2 := stmt2.(*ast.ExpressionStatement)
	arr, ok := es2.Expression.(*ast.ArrayLiteral)
	require.True(t, ok)
	require.Len(t, arr.Elements, 3)
}

func TestUnaryAndUpdateExpressions(t *testing.T) {
	stmt := parseOne(t, "!x;")
	es := stmt.(*ast.ExpressionStatement)
	un, ok := es.Expression.(*ast.UnaryExpression)
	require.True(t, ok)
	assert.Equal(t, "!", un.Operator)

	stmt2 := parseOne(t, "x++;")
	es2 := stmt2.(*ast.ExpressionStatement)
	up, ok := es2.Expression.(*ast.UpdateExpression)
	require.True(t, ok)
	assert.False(t, up.Prefix)

	stmt3 := parseOne(t, "++x;")
	es3 := stmt3.(*ast.ExpressionStatement)
	up3, ok := es3.Expression.(*ast.UpdateExpression)
	require.True(t, ok)
	assert.True(t, up3.Prefix)
}

func TestSyntaxErrorOnMismatch(t *testing.T) {
	_, err := New("let x = ;").Parse()
	require.Error(t, err)
	var synErr *SyntaxError
	require.ErrorAs(t, err, &synErr)
}

func TestFunctionDeclarationAndCall(t *testing.T) {
	prog, err := New("function add(a, b) { return a + b; } add(1, 2);").Parse()
	require.NoError(t, err)
	require.Len(t, prog.Statements, 2)
	fd, ok := prog.Statements[0].(*ast.FunctionDeclaration)
	require.True(t, ok)
	assert.Equal(t, "add", fd.Name)
	assert.Equal(t, []string{"a", "b"}, fd.Params)

	es, ok := prog.Statements[1].(*ast.ExpressionStatement)
	require.True(t, ok)
	call, ok := es.Expression.(*ast.CallExpression)
	require.True(t, ok)
	require.Len(t, call.Args, 2)
}
