package reactor

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/momentics/hioload-iocore/api"
	"github.com/momentics/hioload-iocore/control"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func requireDropped(t *testing.T, c *Context, n int) {
	t.Helper()
	expected := fmt.Sprintf(`
# HELP iocore_dropped_notifications_total Notifications discarded because their handle or operation was already detached
# TYPE iocore_dropped_notifications_total counter
iocore_dropped_notifications_total{context="%s"} %d
`, c.ID(), n)
	require.NoError(t, testutil.GatherAndCompare(c.Metrics().Gatherer(), strings.NewReader(expected), "iocore_dropped_notifications_total"))
}

func TestCompletionRegisterIdempotent(t *testing.T) {
	c, port := newFakeContext(t)

	require.NoError(t, c.Register(1001))
	first := port.recvs[1001]
	require.NotNil(t, first)

	require.NoError(t, c.Register(1001))
	require.Same(t, first, port.recvs[1001])
	require.Equal(t, 1, port.associated[1001])
	require.Equal(t, 1, c.table.len())
}

func TestCompletionBatchCap(t *testing.T) {
	c, port := newFakeContext(t)
	for h := api.Handle(1000); h < 1200; h++ {
		require.NoError(t, c.Register(h))
	}
	for h := api.Handle(1000); h < 1200; h++ {
		port.deliver(t, h, nil)
	}

	var b api.EventBatch
	n, err := c.Select(0, &b)
	require.NoError(t, err)
	require.Equal(t, api.MaxEvents, n)
	require.Equal(t, api.Handle(1000), b.Events[0].Handle)
	require.Equal(t, api.Handle(1127), b.Events[127].Handle)

	n, err = c.Select(0, &b)
	require.NoError(t, err)
	require.Equal(t, 72, n)
	require.Equal(t, api.Handle(1128), b.Events[0].Handle)

	n, err = c.Select(10, &b)
	require.NoError(t, err)
	require.Zero(t, n)

	// Every entry was re-armed after its read.
	require.Len(t, port.recvs, 200)
}

func TestCompletionAcceptPool(t *testing.T) {
	c, port := newFakeContext(t)
	const listener = api.Handle(100)

	require.NoError(t, c.RegisterListen(listener))
	depth, ok := c.AcceptPoolDepth(listener)
	require.True(t, ok)
	require.Equal(t, control.DefaultAcceptPoolSize, depth)
	require.Len(t, port.open, control.DefaultAcceptPoolSize)

	var b api.EventBatch
	var socks []api.Handle
	for i := 0; i < 3; i++ {
		sock := port.connect(t, listener)

		n, err := c.Select(100, &b)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, api.EventRecord{Handle: sock, Kind: api.EventAcceptCompleted, UserTag: uintptr(listener)}, b.Events[0])

		// The accepted socket is now an armed client entry.
		e, slot, ok := c.table.lookup(sock)
		require.True(t, ok)
		require.Equal(t, noSlot, slot)
		require.Equal(t, roleClient, e.role)
		require.Contains(t, port.recvs, sock)

		depth, _ = c.AcceptPoolDepth(listener)
		require.Equal(t, control.DefaultAcceptPoolSize, depth, "after accept %d", i)
		socks = append(socks, sock)
	}
	require.Len(t, port.open, control.DefaultAcceptPoolSize+3)
	require.Equal(t, 1, port.resolves)

	// Every client sends a byte.
	for _, sock := range socks {
		port.deliver(t, sock, nil)
	}
	n, err := c.Select(100, &b)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	for i, sock := range socks {
		require.Equal(t, api.EventRecord{Handle: sock, Kind: api.EventRead}, b.Events[i])
		require.Contains(t, port.recvs, sock)
	}
}

func TestCompletionReadReportedOncePerSelect(t *testing.T) {
	c, port := newFakeContext(t)
	port.immediateRecv = true
	require.NoError(t, c.Register(1001))
	require.NoError(t, c.Register(1002))

	var b api.EventBatch
	for round := 0; round < 3; round++ {
		n, err := c.Select(100, &b)
		require.NoError(t, err)
		require.Equal(t, 2, n, "round %d", round)
		require.Equal(t, api.Handle(1001), b.Events[0].Handle)
		require.Equal(t, api.Handle(1002), b.Events[1].Handle)
	}

	// The receive posted after the last drain is still queued.
	require.Len(t, port.queue, 2)
}

func TestCompletionDisconnectThenSilence(t *testing.T) {
	c, port := newFakeContext(t)
	require.NoError(t, c.Register(1001))

	port.deliver(t, 1001, errWSAECONNRESET)

	var b api.EventBatch
	n, err := c.Select(100, &b)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, api.EventDisconnect, b.Events[0].Kind)
	require.Equal(t, int32(errWSAECONNRESET), b.Events[0].ErrorCode)
	require.NotContains(t, port.recvs, api.Handle(1001))

	n, err = c.Select(20, &b)
	require.NoError(t, err)
	require.Zero(t, n)

	// Registering again re-arms the deactivated entry.
	require.NoError(t, c.Register(1001))
	require.Contains(t, port.recvs, api.Handle(1001))
	require.Equal(t, 1, c.table.len())
}

func TestCompletionErrorKeepsEntryArmed(t *testing.T) {
	c, port := newFakeContext(t)
	require.NoError(t, c.Register(1001))

	const wsaENOBUFS = syscall.Errno(10055)
	port.deliver(t, 1001, wsaENOBUFS)

	var b api.EventBatch
	n, err := c.Select(100, &b)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, api.EventError, b.Events[0].Kind)
	require.Equal(t, int32(10055), b.Events[0].ErrorCode)
	require.Contains(t, port.recvs, api.Handle(1001))
}

func TestCompletionUnregisterDropsLateCompletions(t *testing.T) {
	c, port := newFakeContext(t, control.WithAcceptPoolSize(4))
	require.NoError(t, c.Register(1001))
	require.NoError(t, c.Register(1002))
	require.NoError(t, c.RegisterListen(100))

	// The read lands in the queue before the handle goes away.
	port.deliver(t, 1001, nil)
	require.NoError(t, c.Unregister(1001))
	require.NoError(t, c.Unregister(100))
	require.Empty(t, port.open)
	require.Equal(t, 1, c.table.len())

	var b api.EventBatch
	n, err := c.Select(20, &b)
	require.NoError(t, err)
	require.Zero(t, n)
	requireDropped(t, c, 5)

	// Unknown handles are ignored.
	require.NoError(t, c.Unregister(1001))
	require.NoError(t, c.Close())
	require.True(t, port.closed)
}

func TestCompletionCloseWithOperationsInFlight(t *testing.T) {
	c, port := newFakeContext(t, control.WithAcceptPoolSize(2))
	require.NoError(t, c.Register(1001))
	require.NoError(t, c.RegisterListen(100))

	require.NoError(t, c.Close())
	require.True(t, port.closed)
	require.Empty(t, port.open)
	require.Equal(t, 0, c.table.len())
	require.Len(t, port.queue, 3)

	var b api.EventBatch
	_, err := c.Select(0, &b)
	require.ErrorIs(t, err, api.ErrInvalidContext)
	require.ErrorIs(t, c.Close(), api.ErrInvalidContext)
}

func TestCompletionNotConnectedIgnored(t *testing.T) {
	c, port := newFakeContext(t)
	port.zeroRecvErr = errWSAENOTCONN

	require.NoError(t, c.Register(1001))
	e, _, ok := c.table.lookup(1001)
	require.True(t, ok)
	require.True(t, e.active)
	require.Nil(t, e.recv)

	// Once connected, registering again arms the missing receive.
	port.zeroRecvErr = nil
	require.NoError(t, c.Register(1001))
	require.Contains(t, port.recvs, api.Handle(1001))
	require.NotNil(t, e.recv)
	require.Equal(t, 1, port.associated[1001])
}

func TestCompletionWouldBlockRetriedOnNextWait(t *testing.T) {
	c, port := newFakeContext(t)
	port.zeroRecvErr = errWSAEWOULDBLOCK

	require.NoError(t, c.Register(1001))
	require.NotContains(t, port.recvs, api.Handle(1001))

	port.zeroRecvErr = nil
	var b api.EventBatch
	n, err := c.Select(10, &b)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Contains(t, port.recvs, api.Handle(1001))
}

func TestCompletionRegisterFailureLeavesNoEntry(t *testing.T) {
	c, port := newFakeContext(t)
	port.zeroRecvErr = syscall.Errno(10038) // WSAENOTSOCK

	err := c.Register(1001)
	require.Error(t, err)
	require.True(t, errors.Is(err, syscall.Errno(10038)))
	require.Equal(t, 0, c.table.len())
	_, _, ok := c.table.lookup(1001)
	require.False(t, ok)
}

func TestCompletionAcceptFailureRecycles(t *testing.T) {
	c, port := newFakeContext(t, control.WithAcceptPoolSize(2))
	const listener = api.Handle(100)
	require.NoError(t, c.RegisterListen(listener))

	op := port.popAccept(t, listener)
	port.push(op, 0, errWSAECONNRESET)

	var b api.EventBatch
	n, err := c.Select(100, &b)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, api.EventRecord{Handle: listener, Kind: api.EventError, ErrorCode: int32(errWSAECONNRESET)}, b.Events[0])

	require.NotContains(t, port.open, op.sock)
	depth, _ := c.AcceptPoolDepth(listener)
	require.Equal(t, 2, depth)
	require.Len(t, port.open, 2)
}

func TestCompletionUpdateContextFailure(t *testing.T) {
	c, port := newFakeContext(t, control.WithAcceptPoolSize(1))
	const listener = api.Handle(100)
	require.NoError(t, c.RegisterListen(listener))
	port.updateErr = syscall.Errno(10022) // WSAEINVAL

	sock := port.connect(t, listener)

	var b api.EventBatch
	n, err := c.Select(100, &b)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, api.EventError, b.Events[0].Kind)
	require.Equal(t, listener, b.Events[0].Handle)
	require.NotContains(t, port.open, sock)

	_, _, ok := c.table.lookup(sock)
	require.False(t, ok)
	depth, _ := c.AcceptPoolDepth(listener)
	require.Equal(t, 1, depth)
}

func TestCompletionReplenishRetriesFailedSlots(t *testing.T) {
	c, port := newFakeContext(t, control.WithAcceptPoolSize(2))
	const listener = api.Handle(100)
	require.NoError(t, c.RegisterListen(listener))

	port.connect(t, listener)
	port.newSocketErr = syscall.Errno(10024) // WSAEMFILE

	var b api.EventBatch
	n, err := c.Select(100, &b)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	depth, _ := c.AcceptPoolDepth(listener)
	require.Equal(t, 1, depth)

	port.newSocketErr = nil
	n, err = c.Select(10, &b)
	require.NoError(t, err)
	require.Zero(t, n)
	depth, _ = c.AcceptPoolDepth(listener)
	require.Equal(t, 2, depth)
}

func TestCompletionDetachSlot(t *testing.T) {
	c, port := newFakeContext(t, control.WithAcceptPoolSize(2))
	const listener = api.Handle(100)
	require.NoError(t, c.RegisterListen(listener))

	sock := port.accepts[listener][0].sock
	require.ErrorIs(t, c.Register(sock), api.ErrPoolHandle)
	require.ErrorIs(t, c.RegisterListen(sock), api.ErrPoolHandle)

	// Unregister leaves pool sockets alone.
	require.NoError(t, c.Unregister(sock))
	require.Contains(t, port.open, sock)

	require.NoError(t, c.Detach(sock))
	require.NotContains(t, port.open, sock)
	depth, _ := c.AcceptPoolDepth(listener)
	require.Equal(t, 2, depth)
	require.Len(t, port.open, 2)

	var b api.EventBatch
	n, err := c.Select(20, &b)
	require.NoError(t, err)
	require.Zero(t, n)
	requireDropped(t, c, 1)
}

func TestCompletionListenerArmingFailure(t *testing.T) {
	c, port := newFakeContext(t)
	port.acceptErr = syscall.Errno(10022)

	err := c.RegisterListen(100)
	require.ErrorIs(t, err, api.ErrArmAccept)
	require.Equal(t, int32(-5), api.Status(err))
	require.Equal(t, 0, c.table.len())
	require.Empty(t, port.open)
	_, ok := c.AcceptPoolDepth(100)
	require.False(t, ok)

	port.acceptErr = nil
	port.resolveErr = syscall.Errno(10045) // WSAEOPNOTSUPP
	require.ErrorIs(t, c.RegisterListen(100), api.ErrArmAccept)
	require.Equal(t, 0, c.table.len())
}

func TestCompletionRoleConflict(t *testing.T) {
	c, _ := newFakeContext(t)
	require.NoError(t, c.Register(1001))
	require.ErrorIs(t, c.RegisterListen(1001), api.ErrRoleConflict)

	require.NoError(t, c.RegisterListen(100))
	require.NoError(t, c.RegisterListen(100))
	// A client registration of an armed listener is a no-op.
	require.NoError(t, c.Register(100))
	depth, ok := c.AcceptPoolDepth(100)
	require.True(t, ok)
	require.Equal(t, control.DefaultAcceptPoolSize, depth)
}

func TestContextArgumentErrors(t *testing.T) {
	var nilCtx *Context
	var b api.EventBatch
	require.ErrorIs(t, nilCtx.Register(1), api.ErrInvalidContext)
	require.ErrorIs(t, nilCtx.Close(), api.ErrInvalidContext)
	_, err := nilCtx.Select(0, &b)
	require.ErrorIs(t, err, api.ErrInvalidContext)

	c, _ := newFakeContext(t)
	require.ErrorIs(t, c.Register(-1), api.ErrInvalidHandle)
	require.ErrorIs(t, c.RegisterListen(-1), api.ErrInvalidHandle)
	_, err = c.Select(0, nil)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestSelectEmptyRegistryWaits(t *testing.T) {
	c, _ := newFakeContext(t)
	var b api.EventBatch

	start := time.Now()
	n, err := c.Select(50, &b)
	require.NoError(t, err)
	require.Zero(t, n)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	n, err = c.Select(-1, &b)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSelectHonoursTimeoutWithIdleEntries(t *testing.T) {
	c, _ := newFakeContext(t)
	require.NoError(t, c.Register(1001))
	var b api.EventBatch

	start := time.Now()
	n, err := c.Select(100, &b)
	require.NoError(t, err)
	require.Zero(t, n)
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestDumpState(t *testing.T) {
	c, _ := newFakeContext(t, control.WithAcceptPoolSize(3))
	require.NoError(t, c.Register(1001))
	require.NoError(t, c.RegisterListen(100))

	state := c.DumpState()
	require.Equal(t, "completion", state["backend"])
	require.Equal(t, 2, state["entries"])
	require.Equal(t, 1, state["listeners"])
	require.Equal(t, 3, state["accept_inflight"])
	require.Equal(t, "completion", c.Backend())
	require.NotEmpty(t, c.ID())
}
