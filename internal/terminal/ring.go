// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package terminal

import "sync"

// Ring is a byte-bounded append-only scrollback buffer. When the cap is
// exceeded the oldest bytes are dropped. Trimming can split an escape
// sequence at the front of the buffer; views tolerate that the same way
// they tolerate attaching mid-stream.
type Ring struct {
	mu  sync.Mutex
	buf []byte
	max int
}

// NewRing creates a ring with the given byte cap.
func NewRing(max int) *Ring {
	if max <= 0 {
		max = 256 * 1024
	}
	return &Ring{max: max}
}

// Write appends bytes, dropping from the front past the cap.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(p) >= r.max {
		r.buf = append(r.buf[:0], p[len(p)-r.max:]...)
		return len(p), nil
	}
	r.buf = append(r.buf, p...)
	if len(r.buf) > r.max {
		excess := len(r.buf) - r.max
		r.buf = append(r.buf[:0], r.buf[excess:]...)
	}
	return len(p), nil
}

// Bytes returns a copy of the buffered content.
func (r *Ring) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out
}

// Tail returns a copy of at most the last n bytes.
func (r *Ring) Tail(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.buf) {
		n = len(r.buf)
	}
	out := make([]byte, n)
	copy(out, r.buf[len(r.buf)-n:])
	return out
}

// Len returns the buffered byte count.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
