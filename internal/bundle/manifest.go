package bundle

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// Manifest tallies the build. The bundler loads modules on several
// goroutines, so counters are atomic; they are read once the build is done.
type Manifest struct {
	Start  time.Time
	files  atomic.Int64
	bytes  atomic.Int64
	errors atomic.Int64
}

func NewManifest(start time.Time) *Manifest {
	return &Manifest{Start: start}
}

func (m *Manifest) AddModule(size int64) {
	m.files.Add(1)
	m.bytes.Add(size)
}

func (m *Manifest) AddError() {
	m.errors.Add(1)
}

func (m *Manifest) Files() int64  { return m.files.Load() }
func (m *Manifest) Bytes() int64  { return m.bytes.Load() }
func (m *Manifest) Errors() int64 { return m.errors.Load() }

// HeaderInfo is stamped at the top of the artifact.
type HeaderInfo struct {
	Name    string
	Version string
	Time    time.Time
	Builder string
}

// Header renders the generated-file banner.
func Header(h HeaderInfo) string {
	return "/**\n" +
		" * This file is automatically generated. Do not edit it.\n" +
		fmt.Sprintf(" * $Id: %s.js,v %s %s %s Exp $\n", h.Name, h.Version, h.Time.UTC().Format("2006/01/02 15:04:05"), h.Builder) +
		" */\n"
}

// StripRoot removes every occurrence of root from artifact, in both its
// forward-slash and native spellings.
func StripRoot(artifact, root string) string {
	if root == "" {
		return artifact
	}
	slashed := filepath.ToSlash(root)
	artifact = strings.ReplaceAll(artifact, slashed, "")
	if native := filepath.FromSlash(root); native != slashed {
		artifact = strings.ReplaceAll(artifact, native, "")
	}
	return artifact
}
