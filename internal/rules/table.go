package rules

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	assertSizeRe     = regexp.MustCompile(`assertSize\(size\)`)
	checkedRe        = regexp.MustCompile(` checked\(([^)]+)\) \| 0`)
	bufferCheckFnRe  = regexp.MustCompile(`function (?:checked|assertSize|checkOffset|checkInt|checkIEEE754)`)
	bufferAllocReqRe = regexp.MustCompile(`var \w+ = require\('buffer-(?:alloc|from)'\)`)
	bufferAllocRe    = regexp.MustCompile(`\bbufferAlloc\b`)
	bufferFromRe     = regexp.MustCompile(`\bbufferFrom\b`)
	bufferAllocCall  = regexp.MustCompile(`\bBuffer\.alloc\(`)
	globalRe         = regexp.MustCompile(`\bglobal\.`)
	schemaMetaRe     = regexp.MustCompile(`(?m)^\s+"(?:description|cppname)":\s*".*",?$`)
	ourUint8ArrayRe  = regexp.MustCompile(`([\n\s]+var Buffer[^\n]+[\n\s]+var OurUint8Array[\s\S]+?function _isUint8Array[^}]+\})`)
	streamReqRe      = regexp.MustCompile(`require\(["']stream["']\)`)
	eventsReqRe      = regexp.MustCompile(`require\(["']events["']\)`)
	debugLineRe      = regexp.MustCompile(`(?m)^\s*debug\(.*\);`)
)

// ErrNoTranspiler is reported by transpile rules on units without a Transpiler.
var ErrNoTranspiler = errors.New("no transpiler configured")

// Default returns the production rule table. Categories never decrease
// along the table.
func Default() Table {
	var t Table
	t = append(t, patches()...)
	t = append(t, capabilities()...)
	t = append(t, deadCode()...)
	t = append(t, substitutions()...)
	return t
}

func on(fragment string) (Matcher, string) {
	return Contains(fragment), fragment
}

func onAny(fragments ...string) (Matcher, string) {
	return ContainsAny(fragments...), strings.Join(fragments, " | ")
}

func rule(name string, c Category, m Matcher, pattern string, apply ...Transform) Rule {
	r := Rule{Name: name, Category: c, Match: m, Pattern: pattern, Apply: Steps(apply...)}
	if m == nil {
		r.Pattern = "*"
	}
	return r
}

func patches() Table {
	return Table{
		patch("readable-stream errors from errors.js", "/readable-stream/errors-browser.js",
			swapSibling("errors-browser.js", "errors.js"), transpile()),
		patch("range-slice-stream syntax downgrade", "/range-slice-stream/index.js",
			transpile()),
		patch("mp4-box-encoding exports and soft errors", "/mp4-box-encoding/index.js",
			Replace("Box = exports", "Box=exports;Box.boxes=boxes"),
			Replace("throw new Error('Data too short')", "return new Error('Unsupported media format, data too short...')"),
			Replace("var obj = {}", "var obj=Object.create(null)"),
			// sidx boxes carry no header the decoder understands.
			Replace("var flags", `$&;if (type === "sidx") ptr -= 8;`),
			Replace("obj = decode(", "obj = decode.call(headers,"),
		),
		patchAny("explicit Buffer binding",
			[]string{"/ebml/tools.js", "/ebml/decoder.js", "/mp4-box-encoding/", "/uint64be/index.js", "/mp4-stream/decode"},
			Prepend(bufferImport)),
		patch("pump arguments copy", "/pump/index.js",
			Replace("var streams = Array.prototype.slice.call(arguments)",
				"var i = arguments.length;var streams = new Array(i);while(i--) streams[i] = arguments[i];")),
		patch("end-of-stream deferred close", "/end-of-stream/index.js",
			Replace("process.nextTick(onclosenexttick)", ShimRef+".nextTick(onclosenexttick)")),
		patch("promise-decode-audio-data legacy errors", "/promise-decode-audio-data/index.js",
			Replace(", reject);", `, reject.bind(null, Error("Legacy WebAudio API decoding error")));`),
			Replace("promise.then(", "//")),
		patch("buffer assertion removal", "/buffer/index.js",
			ReplaceRe(assertSizeRe, ""),
			ReplaceRe(checkedRe, " ${1} | 0"),
			ReplaceAll("!noAssert", "0")),
		patch("readable-stream local inherits", "readable-stream",
			Replace("util.inherits =", "var inherits ="),
			Replace("util.inherits(", "inherits(")),
		patch("readable-stream buffer_list trim", "/readable-stream/lib/internal/streams/buffer_list.js",
			trimBefore("function copyBuffer", "'use strict';\n"+bufferImport),
			Replace("_proto[custom]", "if(0)var _"),
			Replace("_classCallCheck", "0&&$&")),
		patch("readable-stream replacement blocks", "readable-stream",
			ReplaceReFirst(ourUint8ArrayRe, "\n\n"+BlockStart+"${1}\n"+BlockEnd+"\n"),
			Blocks(streamBlocks),
			Replace("internalUtil.deprecate(", "deprecate("),
			Replace("_uint8ArrayToBuffer", "Buffer.from")),
		patch("eventemitter3 prependListener", "/eventemitter3/index.js",
			Replace("EventEmitter.prototype.on = function on(event, fn, context", "$&, pp"),
			Replace("return addListener(this, event, fn, context, false", "$&, pp"),
			Replace("function addListener(emitter, event, fn, context, once", "$&, pp"),
			Replace("[evt].push(listener)", `[evt][pp?"unshift":"push"](listener)`),
			Replace("[emitter._events[evt], listener]", "pp ? [listener,emitter._events[evt]] : $&")),
		patch("readable-stream prependListener", "/readable-stream/lib/_stream_readable.js",
			Replace("prependListener(dest, 'error', onerror)", "dest.on('error', onerror, 0, true)")),
		patchAny("buffer-alloc/buffer-from revert",
			[]string{"mp4-stream", "uint64be/index.j", "mp4-box-encoding"},
			ReplaceRe(bufferAllocReqRe, ""),
			ReplaceRe(bufferAllocRe, "Buffer.allocUnsafe"),
			ReplaceRe(bufferFromRe, "Buffer.from")),
		patch("mp4-box-encoding unsafe allocation", "mp4-box-encoding",
			ReplaceRe(bufferAllocCall, "Buffer.allocUnsafe(")),
		patch("mediasource async failure", "/mediasource/index.js",
			Replace("self.destroy(new Error('The provided type is not supported'))",
				ShimRef+".nextTick(self.destroy.bind(self, new Error('The provided type is not supported')))")),
		patch("uint64be boundary", "/uint64be/index.js",
			Replace("UINT_32_MAX = 0xffffffff", "UINT_32_MAX = Math.pow(2, 32)")),
		patch("ebml schema metadata", "/ebml/schema.js",
			ReplaceRe(schemaMetaRe, ""),
			Compact()),
	}
}

func capabilities() Table {
	return Table{
		capability("pump without fs", "/pump/index.js",
			Replace("var fs = require('fs')", "")),
		capabilityAny("window instead of global",
			[]string{"/base-audio-context/index.js", "/promise-decode-audio-data/index.js"},
			ReplaceRe(globalRe, "window.")),
		capability("readable-stream without node internals", "readable-stream",
			Replace("var util = require('core-util-is');", ""),
			Replace("require('isarray')", "Array.isArray"),
			ReplaceAll("require('process-nextick-args')", ShimRef),
			Replace(" && dest !== process.stdout && dest !== process.stderr", ""),
			Replace("process.emitWarning", "console.warn"),
			ReplaceAll("process.nextTick(", ShimRef+".nextTick(")),
		capability("mp4-stream encoder without process", "mp4-stream/encode.js",
			Replace("return process.nextTick", "return nextTick"),
			Replace("function noop () {}", "var nextTick="+ShimRef+`.nextTick, Buffer = require("buffer").Buffer;`+"\n$&")),
	}
}

func deadCode() Table {
	return Table{
		narrow("pump fs fallbacks", "/pump/index.js",
			Replace("var isFS = function", "if(0)$&"),
			Replace("isFS(stream)", "0"),
			Replace("var ancient =", "//$&")),
		narrow("end-of-stream request and child process", "/end-of-stream/index.js",
			Replace("isRequest(stream)", "0"),
			Replace("isChildProcess(stream)", "0"),
			Replace("var isRequest = ", "if(0)x="),
			Replace("var isChildProcess = ", "if(0)x=")),
		narrow("buffer assertion helpers", "/buffer/index.js",
			ReplaceRe(bufferCheckFnRe, "if(0)var _=${0}")),
		narrow("readable-stream async iteration", "/readable-stream/lib/_stream_readable.js",
			Replace("var _require2 = require('../experimentalWarning'),", ""),
			Replace("emitExperimentalWarning = _require2.emitExperimentalWarning;", ""),
			Replace("Readable.prototype[Symbol.asyncIterator]", "if(0)var _"),
			Replace("Readable.from =", "if(0)_="),
			Replace("require('./internal/streams/async_iterator')", "0xBADF")),
		narrowAny("readable-stream eos helpers",
			[]string{"readable-stream/lib/internal/streams/end-of-stream.js", "readable-stream/lib/internal/streams/pipeline.js"},
			Replace("function isRequest", "if(0)x=function"),
			Replace("isRequest(stream)", "0"),
			Replace("function once", `var once=require("once");if(0)x=$&`)),
	}
}

func substitutions() Table {
	return Table{
		rule("safe-buffer", Substitution, nil, "",
			Replace("require('safe-buffer').Buffer", "require('buffer').Buffer")),
		rule("inherits", Substitution, nil, "",
			Replace("require('inherits')", ShimRef+".inherit"),
			Replace("require('util').inherits", ShimRef+".inherit")),
		rule("stream", Substitution, nil, "",
			ReplaceRe(streamReqRe, `require("readable-stream")`)),
		rule("events", Substitution, nil, "",
			ReplaceRe(eventsReqRe, `require("eventemitter3")`)),
		rule("debug", Substitution, nil, "",
			Replace("require('debug')", ""),
			ReplaceRe(debugLineRe, "")),
	}
}

func patch(name, fragment string, apply ...Transform) Rule {
	m, p := on(fragment)
	return rule(name, Patch, m, p, apply...)
}

func patchAny(name string, fragments []string, apply ...Transform) Rule {
	m, p := onAny(fragments...)
	return rule(name, Patch, m, p, apply...)
}

func capability(name, fragment string, apply ...Transform) Rule {
	m, p := on(fragment)
	return rule(name, Capability, m, p, apply...)
}

func capabilityAny(name string, fragments []string, apply ...Transform) Rule {
	m, p := onAny(fragments...)
	return rule(name, Capability, m, p, apply...)
}

func narrow(name, fragment string, apply ...Transform) Rule {
	m, p := on(fragment)
	return rule(name, DeadCode, m, p, apply...)
}

func narrowAny(name string, fragments []string, apply ...Transform) Rule {
	m, p := onAny(fragments...)
	return rule(name, DeadCode, m, p, apply...)
}

// streamBlocks rewires readable-stream's browser blocks onto the shim.
func streamBlocks(u *Unit) BlockFunc {
	return func(block string) string {
		switch {
		case strings.Contains(block, "debugUtil"):
			return "var debug = " + u.Shim + `.debuglog("stream")`
		case strings.Contains(block, "var asyncWrite ="):
			return "var asyncWrite = " + u.Shim + ".nextTick"
		case strings.Contains(block, "internalUtil"):
			return "var deprecate = " + u.Shim + ".deprecate"
		case strings.Contains(block, "OurUint8Array"):
			return "var _isUint8Array=" + u.Shim + `.isU8,Buffer=require("buffer").Buffer`
		case strings.Contains(block, "var objectKeys = "):
			return "var objectKeys = Object.keys;"
		}
		return block
	}
}

func transpile() Transform {
	return func(ctx context.Context, u *Unit, src string) (string, error) {
		if u.Transpiler == nil {
			return "", ErrNoTranspiler
		}
		return u.Transpiler.Transpile(ctx, u.ID, src)
	}
}

// swapSibling replaces the module text with a sibling file's.
func swapSibling(from, to string) Transform {
	return func(_ context.Context, u *Unit, src string) (string, error) {
		if u.ReadFile == nil {
			return "", errors.New("no file reader configured")
		}
		name := strings.Replace(u.Path, from, to, 1)
		b, err := u.ReadFile(name)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", to, err)
		}
		return string(b), nil
	}
}

// trimBefore drops everything before marker and puts prefix in its place.
func trimBefore(marker, prefix string) Transform {
	return func(_ context.Context, u *Unit, src string) (string, error) {
		i := strings.Index(src, marker)
		if i < 0 {
			return src, nil
		}
		return expand(u, prefix) + src[i:], nil
	}
}
