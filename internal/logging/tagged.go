package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Tag returns the console prefix for a process or host name: "[name] ".
func Tag(name string) string {
	return "[" + name + "] "
}

// Indent adds prefix to the beginning of every line of text that is not
// whitespace-only. Line endings are preserved.
func Indent(text, prefix string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(text) + len(prefix)*(strings.Count(text, "\n")+1))
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		if strings.TrimSpace(line) != "" {
			b.WriteString(prefix)
		}
		b.WriteString(line)
	}
	return b.String()
}

// TaggedWriter prints subprocess output with a "[name] " prefix on each line.
// Safe for concurrent use; each Print is written in one call so chunks from
// different processes never interleave mid-line.
type TaggedWriter struct {
	w  io.Writer
	mu sync.Mutex
}

// NewTaggedWriter creates a TaggedWriter writing to w.
func NewTaggedWriter(w io.Writer) *TaggedWriter {
	return &TaggedWriter{w: w}
}

// Print writes text tagged with name, followed by a newline.
func (t *TaggedWriter) Print(name, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintln(t.w, Indent(text, Tag(name)))
	return err
}
