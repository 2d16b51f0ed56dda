package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/rulesmith/pkg/service/llm"
)

// streamPrinter shows a spinner on stderr until the first chunk arrives and
// then writes chunks to w as they come
type streamPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	spin    *spinner.Spinner
	started bool
}

func newStreamPrinter(w io.Writer, label string) *streamPrinter {
	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Suffix = " " + label
	spin.Start()
	return &streamPrinter{w: w, spin: spin}
}

func (x *streamPrinter) observer() *llm.StreamObserver {
	return &llm.StreamObserver{
		OnChunk: x.chunk,
		OnReset: x.reset,
	}
}

func (x *streamPrinter) chunk(s string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.started {
		x.spin.Stop()
		x.started = true
	}
	fmt.Fprint(x.w, s)
}

func (x *streamPrinter) reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.started {
		fmt.Fprintln(x.w, "\n\n[model is busy, retrying]")
		x.started = false
		x.spin.Start()
	}
}

// done stops the spinner. It must be called once the call returns.
func (x *streamPrinter) done() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.started {
		fmt.Fprintln(x.w)
		return
	}
	x.spin.Stop()
}

// wait runs fn with a spinner for non streaming calls
func wait[T any](label string, fn func() (T, error)) (T, error) {
	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	spin.Suffix = " " + label
	spin.Start()
	defer spin.Stop()
	return fn()
}
