// Package iocontext carries the command's I/O streams through a context so
// tests can swap stdin and stdout.
package iocontext

import (
	"bufio"
	"context"
	"io"
	"os"
)

// maxLine caps one line of interactive input.
const maxLine = 1 << 20

// IO holds the input/output streams for commands.
type IO struct {
	Out    io.Writer // stdout
	ErrOut io.Writer // stderr
	In     io.Reader // stdin
}

// DefaultIO returns the standard IO streams.
func DefaultIO() *IO {
	return &IO{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
		In:     os.Stdin,
	}
}

// Muted returns a copy whose ErrOut discards everything.
func (s *IO) Muted() *IO {
	return &IO{Out: s.Out, ErrOut: io.Discard, In: s.In}
}

// Lines reads In line by line until EOF or ctx is done. The channel is
// closed at EOF or on a read error. A reader blocked in Read is not
// interrupted by ctx; it exits on the next line.
func (s *IO) Lines(ctx context.Context) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		if s.In == nil {
			return
		}
		sc := bufio.NewScanner(s.In)
		sc.Buffer(make([]byte, 0, 4096), maxLine)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

type ioKey struct{}

// WithIO adds IO streams to a context.
func WithIO(ctx context.Context, streams *IO) context.Context {
	return context.WithValue(ctx, ioKey{}, streams)
}

// GetIO retrieves IO streams from context, defaulting to standard streams.
func GetIO(ctx context.Context) *IO {
	if streams, ok := ctx.Value(ioKey{}).(*IO); ok && streams != nil {
		return streams
	}
	return DefaultIO()
}
