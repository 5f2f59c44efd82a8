package rules

import (
	"context"
	"regexp"
	"strings"
)

// ShimRef in a replacement expands to the unit's shim expression.
const ShimRef = "{{shim}}"

// bufferImport binds Buffer explicitly so modules do not close over a global.
const bufferImport = "var Buffer = require(\"buffer\").Buffer;\n"

func expand(u *Unit, repl string) string {
	return strings.ReplaceAll(repl, ShimRef, u.Shim)
}

// Replace rewrites the first occurrence of old. A "$&" in repl stands for old.
func Replace(old, repl string) Transform {
	return func(_ context.Context, u *Unit, src string) (string, error) {
		i := strings.Index(src, old)
		if i < 0 {
			return src, nil
		}
		r := strings.ReplaceAll(expand(u, repl), "$&", old)
		return src[:i] + r + src[i+len(old):], nil
	}
}

// ReplaceAll rewrites every occurrence of old.
func ReplaceAll(old, repl string) Transform {
	return func(_ context.Context, u *Unit, src string) (string, error) {
		return strings.ReplaceAll(src, old, expand(u, repl)), nil
	}
}

// ReplaceRe rewrites every match of re; repl uses regexp.Expand syntax.
func ReplaceRe(re *regexp.Regexp, repl string) Transform {
	return func(_ context.Context, u *Unit, src string) (string, error) {
		return re.ReplaceAllString(src, expand(u, repl)), nil
	}
}

// ReplaceReFirst rewrites only the leftmost match of re.
func ReplaceReFirst(re *regexp.Regexp, repl string) Transform {
	return func(_ context.Context, u *Unit, src string) (string, error) {
		m := re.FindStringSubmatchIndex(src)
		if m == nil {
			return src, nil
		}
		out := re.ExpandString(nil, expand(u, repl), src, m)
		return src[:m[0]] + string(out) + src[m[1]:], nil
	}
}

func Prepend(text string) Transform {
	return func(_ context.Context, u *Unit, src string) (string, error) {
		return expand(u, text) + src, nil
	}
}

// Steps chains transforms; each sees the previous one's output.
func Steps(ts ...Transform) Transform {
	return func(ctx context.Context, u *Unit, src string) (string, error) {
		var err error
		for _, t := range ts {
			if src, err = t(ctx, u, src); err != nil {
				return "", err
			}
		}
		return src, nil
	}
}

// Compact marks the unit for whitespace-free minifier output.
func Compact() Transform {
	return func(_ context.Context, u *Unit, src string) (string, error) {
		u.Beautify = false
		return src, nil
	}
}
