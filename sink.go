package main

import (
	"fmt"
	"io"
	"sync"
)

// consoleSink delivers transcriptions to a terminal. Batch utterances print
// as whole lines; streaming edits rewrite the current line in place.
type consoleSink struct {
	mu    sync.Mutex
	out   io.Writer
	label string
	line  []rune
}

func newConsoleSink(label string, out io.Writer) *consoleSink {
	return &consoleSink{out: out, label: label}
}

func (s *consoleSink) WriteText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "[%s] %s\n", s.label, text)
}

func (s *consoleSink) ApplyEdit(retract int, appendText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if retract > len(s.line) {
		retract = len(s.line)
	}
	s.line = append(s.line[:len(s.line)-retract], []rune(appendText)...)
	fmt.Fprintf(s.out, "\r[%s] %s\x1b[K", s.label, string(s.line))
}
