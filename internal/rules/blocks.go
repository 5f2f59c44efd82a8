package rules

import (
	"context"
	"regexp"
)

const (
	BlockStart = "/*<replacement>*/"
	BlockEnd   = "/*</replacement>*/"
)

var blockRe = regexp.MustCompile(regexp.QuoteMeta(BlockStart) + `(?s:.*?)` + regexp.QuoteMeta(BlockEnd))

// BlockFunc receives a whole block, delimiters included, and returns its
// replacement. Returning the block unchanged keeps it as is.
type BlockFunc func(block string) string

func PassThrough(block string) string { return block }

// ReplaceBlocks offers every replacement block in src to fn, left to right.
// Replaced text is not scanned again. It returns the number of blocks seen.
func ReplaceBlocks(src string, fn BlockFunc) (string, int) {
	if fn == nil {
		fn = PassThrough
	}
	n := 0
	out := blockRe.ReplaceAllStringFunc(src, func(block string) string {
		n++
		return fn(block)
	})
	return out, n
}

// Blocks wraps ReplaceBlocks as a Transform. build receives the unit so
// replacements can reference its shim.
func Blocks(build func(u *Unit) BlockFunc) Transform {
	return func(_ context.Context, u *Unit, src string) (string, error) {
		out, _ := ReplaceBlocks(src, build(u))
		return out, nil
	}
}
