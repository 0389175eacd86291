// Package utils holds small helpers shared by the command entry points.
package utils

import (
	"io"
	"sync"
)

// DeferredWriter buffers writes until Flush. It holds log output while a
// full-screen program owns the terminal.
type DeferredWriter struct {
	mu     sync.Mutex
	writes [][]byte
}

// Write records a copy of p. Each call is replayed as one write on Flush so
// line-oriented writers such as zerolog.ConsoleWriter see whole events.
func (d *DeferredWriter) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, append([]byte(nil), p...))
	return len(p), nil
}

// Flush replays buffered writes to w in order and clears the buffer.
func (d *DeferredWriter) Flush(w io.Writer) error {
	d.mu.Lock()
	writes := d.writes
	d.writes = nil
	d.mu.Unlock()

	for _, p := range writes {
		if _, err := w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of buffered writes.
func (d *DeferredWriter) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes)
}
