package transpile

import (
	"context"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

const shimExpr = `require("vs:compat")`

const babelOutput = `"use strict";

function _inheritsLoose(subClass, superClass) { subClass.prototype = Object.create(superClass.prototype); subClass.prototype.constructor = subClass; subClass.__proto__ = superClass; }

var NodeError = /*#__PURE__*/function (_Base) {
  _inheritsLoose(NodeError, _Base);
  function NodeError(arg1) { return _Base.call(this, arg1) || this; }
  return NodeError;
}(Base);
`

func TestRewireInherits(t *testing.T) {
	out := RewireInherits(babelOutput, shimExpr)
	assert.Assert(t, !strings.Contains(out, "function _inheritsLoose"))
	assert.Assert(t, !strings.Contains(out, "_inheritsLoose"))
	assert.Assert(t, cmp.Contains(out, `require("vs:compat").inherit(NodeError, _Base);`))
}

type stubCompiler struct {
	out string
	err error
}

func (s stubCompiler) Compile(context.Context, string, string) (string, error) {
	return s.out, s.err
}

func TestAdapterRewiresCompilerOutput(t *testing.T) {
	a := &Adapter{Compiler: stubCompiler{out: babelOutput}, Shim: shimExpr}
	out, err := a.Transpile(context.Background(), "errors.js", "class NodeError extends Base {}")
	assert.NilError(t, err)
	assert.Assert(t, cmp.Contains(out, shimExpr+".inherit(NodeError, _Base)"))
}

func TestEsbuildLowersSyntax(t *testing.T) {
	src := "var sq = (a) => a ** 2;\nmodule.exports = function (x) { return `v${sq(x)}`; };\n"
	out, err := Esbuild{}.Compile(context.Background(), "index.js", src)
	assert.NilError(t, err)
	assert.Assert(t, cmp.Contains(out, "Math.pow"))
	assert.Assert(t, !strings.Contains(out, "=>"))
	assert.Assert(t, !strings.Contains(out, "`"))
}

func TestEsbuildRefusesClassesForES5(t *testing.T) {
	src := "class NodeError extends Base {\n  constructor(m) { super(m); }\n}\nmodule.exports = NodeError;\n"
	out, err := Esbuild{}.Compile(context.Background(), "errors.js", src)
	assert.ErrorContains(t, err, "errors.js")
	assert.Equal(t, out, "")
}

func TestAdapterSurfacesCompileErrors(t *testing.T) {
	a := &Adapter{Compiler: Esbuild{}, Shim: shimExpr}
	_, err := a.Transpile(context.Background(), "index.js", "class R extends Object {}\n")
	assert.ErrorContains(t, err, "transpiling index.js")
}

func TestEsbuildReportsErrors(t *testing.T) {
	_, err := Esbuild{}.Compile(context.Background(), "broken.js", "var = ;")
	assert.ErrorContains(t, err, "broken.js")
}

func TestBabelPipesSourceThroughCommand(t *testing.T) {
	b := Babel{Command: []string{"sh", "-c", "cat", "sh"}}
	out, err := b.Compile(context.Background(), "index.js", "const x = 1;\n")
	assert.NilError(t, err)
	assert.Equal(t, out, "const x = 1;\n")
}

func TestBabelSurfacesStderr(t *testing.T) {
	b := Babel{Command: []string{"sh", "-c", "echo preset missing >&2; exit 3", "sh"}}
	_, err := b.Compile(context.Background(), "index.js", "")
	assert.ErrorContains(t, err, "preset missing")
}
