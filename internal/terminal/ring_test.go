// Copyright © 2026 Arbor Authors
// SPDX-License-Identifier: Apache-2.0

package terminal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_AppendsInOrder(t *testing.T) {
	r := NewRing(1024)
	r.Write([]byte("hello "))
	r.Write([]byte("world"))
	assert.Equal(t, "hello world", string(r.Bytes()))
	assert.Equal(t, 11, r.Len())
}

func TestRing_DropsOldestPastCap(t *testing.T) {
	r := NewRing(8)
	r.Write([]byte("abcdefgh"))
	r.Write([]byte("ij"))
	assert.Equal(t, "cdefghij", string(r.Bytes()))
}

func TestRing_OversizedWrite(t *testing.T) {
	r := NewRing(4)
	r.Write([]byte("abcdefgh"))
	assert.Equal(t, "efgh", string(r.Bytes()))
}

func TestRing_Tail(t *testing.T) {
	r := NewRing(1024)
	r.Write([]byte("0123456789"))
	assert.Equal(t, "6789", string(r.Tail(4)))
	assert.Equal(t, "0123456789", string(r.Tail(100)))
	assert.Equal(t, "0123456789", string(r.Tail(0)))
}

func TestRing_BytesIsACopy(t *testing.T) {
	r := NewRing(1024)
	r.Write([]byte("abc"))
	b := r.Bytes()
	b[0] = 'z'
	assert.Equal(t, "abc", string(r.Bytes()))
}

func TestRing_LargeStream(t *testing.T) {
	r := NewRing(100)
	chunk := strings.Repeat("x", 33)
	for i := 0; i < 50; i++ {
		r.Write([]byte(chunk))
	}
	assert.Equal(t, 100, r.Len())
}
