// Package reconcile turns successive partial transcription hypotheses into
// minimal display edits, so a downstream sink shows smoothly-updating text
// instead of retyping whole hypotheses.
package reconcile

// Edit is the operation to apply downstream: remove Retract trailing
// characters, then append Append.
type Edit struct {
	Retract int
	Append  string
}

// Reconciler holds one mutable buffer per active utterance. Not safe for
// concurrent use; each session controller owns one.
type Reconciler struct {
	buffer []rune
}

func New() *Reconciler {
	return &Reconciler{}
}

// Push folds a new hypothesis into the buffer and returns the minimal edit
// that transforms the previously-visible text into it. When endOfUtterance
// is set the buffer is reset afterwards so the next utterance starts clean.
func (r *Reconciler) Push(text string, endOfUtterance bool) Edit {
	next := []rune(text)

	prefix := 0
	for prefix < len(r.buffer) && prefix < len(next) && r.buffer[prefix] == next[prefix] {
		prefix++
	}

	edit := Edit{
		Retract: len(r.buffer) - prefix,
		Append:  string(next[prefix:]),
	}

	if endOfUtterance {
		r.buffer = r.buffer[:0]
	} else {
		r.buffer = next
	}
	return edit
}

// Buffer returns the currently-visible text.
func (r *Reconciler) Buffer() string {
	return string(r.buffer)
}
