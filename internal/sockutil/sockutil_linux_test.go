//go:build linux
// +build linux

package sockutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoopbackRoundTrip(t *testing.T) {
	l, err := Listen("127.0.0.1", 0, 8)
	require.NoError(t, err)
	defer Close(l)

	port, err := LocalPort(l)
	require.NoError(t, err)
	require.NotZero(t, port)

	c, err := Dial("127.0.0.1", port)
	require.NoError(t, err)
	defer Close(c)

	s, err := Accept(l)
	require.NoError(t, err)
	defer Close(s)

	n, err := Write(c, []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	buf := make([]byte, 16)
	n, err = Read(s, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestListenRejectsBadHost(t *testing.T) {
	_, err := Listen("not-an-ip", 0, 1)
	require.Error(t, err)
}
