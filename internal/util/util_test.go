package util

import (
	"net"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}

	for _, tc := range testCases {
		got := formatBytes(tc.in)
		assert.Equal(t, tc.want, got, "formatBytes(%v)", tc.in)
		assert.Len(t, got, 8)
	}
}

func TestFormatDelta(t *testing.T) {
	prev := snapshot{total: 1, pSent: 2, sent: 10}

	_, ok := formatDelta(prev, prev)
	assert.False(t, ok, "no activity, no line")

	cur := prev
	cur.total++
	cur.pSent += 3
	cur.sent += 2048
	line, ok := formatDelta(prev, cur)
	assert.True(t, ok)
	assert.Contains(t, line, "Sent:   3 ( 2.0 KiB)")
	assert.Contains(t, line, "Conn:  1↑  0↓")
}

func TestEndpointIDFromConn(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	valid := regexp.MustCompile(`^[0-9A-Z]{4}$`)

	id := EndpointIDFromConn(c1, "salt-a")
	assert.Regexp(t, valid, id)
	assert.Equal(t, id, EndpointIDFromConn(c1, "salt-a"), "deterministic for the same input")

	seen := map[string]bool{}
	for _, salt := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		other := EndpointIDFromConn(c1, salt)
		assert.Regexp(t, valid, other)
		seen[other] = true
	}
	assert.Greater(t, len(seen), 1, "salt changes the ID")
}
