package rules

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

const testShim = `require("vs:compat")`

func unit(id string) *Unit {
	return &Unit{ID: id, Path: "/build/" + id, Shim: testShim, Beautify: true}
}

func run(t *testing.T, id, src string) (string, *Unit) {
	t.Helper()
	u := unit(id)
	out, errs := NewEngine(Default(), zerolog.Nop()).Run(context.Background(), u, src)
	assert.Equal(t, len(errs), 0, "%v", errs)
	return out, u
}

func TestReplaceBlocksCallsOncePerBlock(t *testing.T) {
	src := "a;" + BlockStart + "one" + BlockEnd + "b;" + BlockStart + "\ntwo\n" + BlockEnd + "c;" + BlockStart + "three" + BlockEnd

	var seen []string
	out, n := ReplaceBlocks(src, func(block string) string {
		seen = append(seen, block)
		return block
	})
	assert.Equal(t, n, 3)
	assert.Equal(t, len(seen), 3)
	assert.Equal(t, out, src)
	assert.Equal(t, seen[1], BlockStart+"\ntwo\n"+BlockEnd)
}

func TestReplaceBlocksDoesNotRescanReplacements(t *testing.T) {
	src := BlockStart + "x" + BlockEnd + BlockStart + "y" + BlockEnd
	calls := 0
	out, n := ReplaceBlocks(src, func(block string) string {
		calls++
		return BlockStart + "nested" + BlockEnd
	})
	assert.Equal(t, n, 2)
	assert.Equal(t, calls, 2)
	assert.Equal(t, out, strings.Repeat(BlockStart+"nested"+BlockEnd, 2))
}

func TestReplaceBlocksWithoutBlocks(t *testing.T) {
	out, n := ReplaceBlocks("var a = 1;", nil)
	assert.Equal(t, n, 0)
	assert.Equal(t, out, "var a = 1;")
}

func TestReplaceExpandsMatchAndShim(t *testing.T) {
	u := unit("x.js")
	out, err := Replace("foo", "$&;"+ShimRef+".bar")(context.Background(), u, "foo foo")
	assert.NilError(t, err)
	assert.Equal(t, out, `foo;require("vs:compat").bar foo`)
}

func TestReplaceReFirstOnlyTouchesLeftmost(t *testing.T) {
	out, err := ReplaceReFirst(streamReqRe, "X")(context.Background(), unit("x.js"), `require('stream');require("stream")`)
	assert.NilError(t, err)
	assert.Equal(t, out, `X;require("stream")`)
}

func TestEngineOrderAndIsolation(t *testing.T) {
	table := Table{
		{Name: "append-a", Apply: Steps(func(_ context.Context, _ *Unit, s string) (string, error) { return s + "a", nil })},
		{Name: "only-b", Match: Contains("/b/"), Apply: func(_ context.Context, _ *Unit, s string) (string, error) { return s + "b", nil }},
		{Name: "fails", Apply: func(_ context.Context, _ *Unit, s string) (string, error) { return "garbage", errors.New("boom") }},
		{Name: "panics", Apply: func(_ context.Context, _ *Unit, s string) (string, error) { panic("bad regexp") }},
		{Name: "upper", Apply: func(_ context.Context, _ *Unit, s string) (string, error) { return strings.ToUpper(s), nil }},
	}
	e := NewEngine(table, zerolog.Nop())

	out, errs := e.Run(context.Background(), unit("lib/b/x.js"), "x")
	assert.Equal(t, out, "XAB")
	assert.Equal(t, len(errs), 2)
	assert.ErrorContains(t, errs[0], `rule "fails": boom`)
	assert.ErrorContains(t, errs[1], "panicked")

	out, _ = e.Run(context.Background(), unit("lib/c/x.js"), "x")
	assert.Equal(t, out, "XA")
}

func TestDefaultCategoriesNeverDecrease(t *testing.T) {
	table := Default()
	assert.Assert(t, len(table) > 0)
	for i := 1; i < len(table); i++ {
		assert.Assert(t, table[i-1].Category <= table[i].Category,
			"%q (%s) precedes %q (%s)", table[i-1].Name, table[i-1].Category, table[i].Name, table[i].Category)
	}
	for _, r := range table {
		assert.Equal(t, r.Universal(), r.Category == Substitution, r.Name)
	}
}

func TestDefaultIsDeterministic(t *testing.T) {
	src := "var stream = require('stream');\nvar inherits = require('inherits');\ndebug('x');\n"
	a, _ := run(t, "node_modules/readable-stream/lib/_stream_writable.js", src)
	b, _ := run(t, "node_modules/readable-stream/lib/_stream_writable.js", src)
	assert.Equal(t, a, b)
}

func TestUniversalSubstitutions(t *testing.T) {
	src := strings.Join([]string{
		"var Buffer = require('safe-buffer').Buffer;",
		"var inherits = require('inherits');",
		"var Stream = require('stream');",
		`var EE = require("events");`,
		"var debug = require('debug')('mod');",
		"  debug('chatty %s', x);",
		"module.exports = Stream;",
	}, "\n")

	out, u := run(t, "node_modules/some-lib/index.js", src)
	assert.Assert(t, cmp.Contains(out, "require('buffer').Buffer"))
	assert.Assert(t, cmp.Contains(out, `var inherits = require("vs:compat").inherit;`))
	assert.Assert(t, cmp.Contains(out, `require("readable-stream")`))
	assert.Assert(t, cmp.Contains(out, `require("eventemitter3")`))
	assert.Assert(t, !strings.Contains(out, "require('debug')"))
	assert.Assert(t, !strings.Contains(out, "chatty"))
	assert.Assert(t, u.Beautify)
}

func TestUntargetedModuleOnlySeesUniversalRules(t *testing.T) {
	src := "var UINT_32_MAX = 0xffffffff;\nprocess.nextTick(f);\n"
	out, _ := run(t, "node_modules/other/index.js", src)
	assert.Equal(t, out, src)
}

func TestUint64beBoundary(t *testing.T) {
	out, _ := run(t, "node_modules/uint64be/index.js", "var UINT_32_MAX = 0xffffffff\n")
	assert.Assert(t, strings.HasPrefix(out, bufferImport))
	assert.Assert(t, cmp.Contains(out, "UINT_32_MAX = Math.pow(2, 32)"))
}

func TestPumpNarrowing(t *testing.T) {
	src := strings.Join([]string{
		"var fs = require('fs')",
		"var ancient = /^v?\\.0/.test(process.version)",
		"var isFS = function (stream) { return true }",
		"if (isFS(stream)) return stream.close()",
		"var streams = Array.prototype.slice.call(arguments)",
	}, "\n")
	out, _ := run(t, "node_modules/pump/index.js", src)
	assert.Assert(t, !strings.Contains(out, "require('fs')"))
	assert.Assert(t, cmp.Contains(out, "//var ancient ="))
	assert.Assert(t, cmp.Contains(out, "if(0)var isFS = function"))
	assert.Assert(t, cmp.Contains(out, "if (0) return"))
	assert.Assert(t, cmp.Contains(out, "var streams = new Array(i)"))
}

func TestEndOfStreamDefersClose(t *testing.T) {
	out, _ := run(t, "node_modules/end-of-stream/index.js", "var isRequest = function(){};\nprocess.nextTick(onclosenexttick);\nif (isRequest(stream)) {}")
	assert.Assert(t, cmp.Contains(out, `require("vs:compat").nextTick(onclosenexttick)`))
	assert.Assert(t, cmp.Contains(out, "if(0)x=function"))
	assert.Assert(t, cmp.Contains(out, "if (0) {}"))
}

func TestGlobalBecomesWindow(t *testing.T) {
	out, _ := run(t, "node_modules/base-audio-context/index.js", "var C = global.AudioContext || global.webkitAudioContext; var myglobal.x;")
	assert.Equal(t, out, "var C = window.AudioContext || window.webkitAudioContext; var myglobal.x;")
}

func TestSchemaMetadataAndCompaction(t *testing.T) {
	src := "module.exports = {\n  \"1a45dfa3\": {\n    \"name\": \"EBML\",\n    \"description\": \"Set the EBML characteristics\",\n    \"cppname\": \"EBMLHead\",\n    \"level\": 0\n  }\n};\n"
	out, u := run(t, "node_modules/ebml/lib/ebml/schema.js", src)
	assert.Assert(t, !strings.Contains(out, "description"))
	assert.Assert(t, !strings.Contains(out, "cppname"))
	assert.Assert(t, cmp.Contains(out, `"level": 0`))
	assert.Assert(t, !u.Beautify)
}

func TestReadableStreamBlocks(t *testing.T) {
	src := strings.Join([]string{
		"var util = require('core-util-is');",
		"util.inherits = require('inherits');",
		BlockStart,
		"var debugUtil = require('util');",
		"var debug = void 0;",
		BlockEnd,
		BlockStart,
		"var asyncWrite = !process.browser ? setImmediate : pna.nextTick;",
		BlockEnd,
		BlockStart,
		"var internalUtil = { deprecate: require('util-deprecate') };",
		BlockEnd,
		BlockStart,
		"var keep = 1;",
		BlockEnd,
		"util.inherits(Writable, Stream);",
		"var pna = require('process-nextick-args');",
		"process.nextTick(cb, er);",
		"internalUtil.deprecate(fn, 'msg');",
	}, "\n")

	out, _ := run(t, "node_modules/readable-stream/lib/_stream_writable.js", src)
	assert.Assert(t, cmp.Contains(out, `var debug = require("vs:compat").debuglog("stream")`))
	assert.Assert(t, cmp.Contains(out, `var asyncWrite = require("vs:compat").nextTick`))
	assert.Assert(t, cmp.Contains(out, `var deprecate = require("vs:compat").deprecate`))
	assert.Assert(t, cmp.Contains(out, BlockStart+"\nvar keep = 1;\n"+BlockEnd))
	assert.Assert(t, cmp.Contains(out, `var inherits = require("vs:compat").inherit;`))
	assert.Assert(t, cmp.Contains(out, "inherits(Writable, Stream);"))
	assert.Assert(t, cmp.Contains(out, `var pna = require("vs:compat");`))
	assert.Assert(t, cmp.Contains(out, `require("vs:compat").nextTick(cb, er);`))
	assert.Assert(t, cmp.Contains(out, "deprecate(fn, 'msg');"))
	assert.Assert(t, !strings.Contains(out, "core-util-is"))
	assert.Assert(t, !strings.Contains(out, "internalUtil.deprecate("))
}

func TestReadableStreamOurUint8ArrayWrapped(t *testing.T) {
	src := "'use strict';\n\nvar Buffer = require('buffer').Buffer;\nvar OurUint8Array = global.Uint8Array || function () {};\nfunction _uint8ArrayToBuffer(chunk) {\n  return Buffer.from(chunk);\n}\nfunction _isUint8Array(obj) {\n  return Buffer.isBuffer(obj) || obj instanceof OurUint8Array;\n}\nvar x = _isUint8Array(c);\n"
	out, _ := run(t, "node_modules/readable-stream/lib/_stream_readable.js", src)
	assert.Assert(t, cmp.Contains(out, `var _isUint8Array=require("vs:compat").isU8,Buffer=require("buffer").Buffer`))
	assert.Assert(t, !strings.Contains(out, "OurUint8Array"))
	assert.Assert(t, cmp.Contains(out, "var x = _isUint8Array(c);"))
}

type fakeTranspiler struct {
	got []string
}

func (f *fakeTranspiler) Transpile(_ context.Context, filename, src string) (string, error) {
	f.got = append(f.got, filename)
	return "/*es5*/" + src, nil
}

func TestErrorsBrowserSwappedAndTranspiled(t *testing.T) {
	tr := &fakeTranspiler{}
	u := unit("node_modules/readable-stream/errors-browser.js")
	u.Transpiler = tr
	u.ReadFile = func(name string) ([]byte, error) {
		assert.Equal(t, name, "/build/node_modules/readable-stream/errors.js")
		return []byte("class E extends Error {}"), nil
	}

	out, errs := NewEngine(Default(), zerolog.Nop()).Run(context.Background(), u, "browser variant")
	assert.Equal(t, len(errs), 0)
	assert.Assert(t, strings.HasPrefix(out, "/*es5*/class E extends Error {}"))
	assert.DeepEqual(t, tr.got, []string{u.ID})
}

func TestTranspileWithoutTranspilerIsAnError(t *testing.T) {
	u := unit("node_modules/range-slice-stream/index.js")
	out, errs := NewEngine(Default(), zerolog.Nop()).Run(context.Background(), u, "const a = 1;")
	assert.Equal(t, len(errs), 1)
	assert.Assert(t, errors.Is(errs[0], ErrNoTranspiler))
	assert.Equal(t, out, "const a = 1;")
}

func TestMatchers(t *testing.T) {
	m := AllOf(Contains("readable-stream"), AnyOf(Contains("/pipeline.js"), Contains("/end-of-stream.js")))
	assert.Assert(t, m("node_modules/readable-stream/lib/internal/streams/pipeline.js"))
	assert.Assert(t, !m("node_modules/pump/pipeline.js"))
	assert.Assert(t, Always("anything"))
	assert.Equal(t, len(Default().Matching("node_modules/pump/index.js")), 3+len(substitutions()))
}
