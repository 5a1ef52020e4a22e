package reactor

import (
	"io"
	"testing"
	"time"

	"github.com/momentics/hioload-iocore/api"
	"github.com/momentics/hioload-iocore/control"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakePort is an in-memory completionPort. Posted operations stay pending
// until a test completes them; cancellation queues an aborted completion
// the way a real port does.
type fakePort struct {
	nextSock   api.Handle
	associated map[api.Handle]int
	resolves   int
	accepts    map[api.Handle][]*operation
	recvs      map[api.Handle]*operation
	queue      []completion
	open       map[api.Handle]bool
	closes     int
	closed     bool

	resolveErr   error
	newSocketErr error
	acceptErr    error
	updateErr    error
	zeroRecvErr  error

	// immediateRecv completes every zero-length receive as soon as it is
	// posted, like a socket that still holds unread data.
	immediateRecv bool
}

func newFakePort() *fakePort {
	return &fakePort{
		nextSock:   5000,
		associated: make(map[api.Handle]int),
		accepts:    make(map[api.Handle][]*operation),
		recvs:      make(map[api.Handle]*operation),
		open:       make(map[api.Handle]bool),
	}
}

func (p *fakePort) associate(h api.Handle) error {
	p.associated[h]++
	return nil
}

func (p *fakePort) resolveAccept(api.Handle) error {
	p.resolves++
	return p.resolveErr
}

func (p *fakePort) newSocket(api.Handle) (api.Handle, error) {
	if p.newSocketErr != nil {
		return api.InvalidHandle, p.newSocketErr
	}
	p.nextSock++
	p.open[p.nextSock] = true
	return p.nextSock, nil
}

func (p *fakePort) closeSocket(h api.Handle) error {
	delete(p.open, h)
	p.closes++
	return nil
}

func (p *fakePort) acceptEx(listener api.Handle, op *operation) error {
	if p.acceptErr != nil {
		return p.acceptErr
	}
	p.accepts[listener] = append(p.accepts[listener], op)
	return nil
}

func (p *fakePort) zeroRecv(h api.Handle, op *operation) error {
	if p.zeroRecvErr != nil {
		return p.zeroRecvErr
	}
	if p.immediateRecv {
		p.push(op, 0, nil)
		return nil
	}
	p.recvs[h] = op
	return nil
}

func (p *fakePort) updateAcceptContext(api.Handle, api.Handle) error {
	return p.updateErr
}

func (p *fakePort) cancel(h api.Handle, op *operation) error {
	if p.recvs[h] == op {
		delete(p.recvs, h)
		p.push(op, 0, errOperationAborted)
		return nil
	}
	for l, ops := range p.accepts {
		for i, pending := range ops {
			if pending == op {
				p.accepts[l] = append(ops[:i:i], ops[i+1:]...)
				p.push(op, 0, errOperationAborted)
				return nil
			}
		}
	}
	return nil
}

func (p *fakePort) dequeue(timeout time.Duration) (completion, bool, error) {
	if len(p.queue) == 0 {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return completion{}, false, nil
	}
	c := p.queue[0]
	p.queue = p.queue[1:]
	return c, true, nil
}

func (p *fakePort) close() error {
	p.closed = true
	return nil
}

func (p *fakePort) push(op *operation, bytes uint32, err error) {
	p.queue = append(p.queue, completion{op: op, bytes: bytes, err: err})
}

// popAccept removes the oldest pending accept of listener.
func (p *fakePort) popAccept(t *testing.T, listener api.Handle) *operation {
	t.Helper()
	ops := p.accepts[listener]
	require.NotEmpty(t, ops, "no accept pending on %d", listener)
	p.accepts[listener] = ops[1:]
	return ops[0]
}

// connect completes the oldest accept of listener and returns the socket the
// connection lands on.
func (p *fakePort) connect(t *testing.T, listener api.Handle) api.Handle {
	t.Helper()
	op := p.popAccept(t, listener)
	p.push(op, 0, nil)
	return op.sock
}

// deliver completes the pending zero-length receive of h.
func (p *fakePort) deliver(t *testing.T, h api.Handle, err error) {
	t.Helper()
	op, ok := p.recvs[h]
	require.True(t, ok, "no receive pending on %d", h)
	delete(p.recvs, h)
	p.push(op, 0, err)
}

func newFakeContext(t *testing.T, opts ...control.Option) (*Context, *fakePort) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	opts = append([]control.Option{control.WithLogger(log), control.WithTableSizeHint(64)}, opts...)

	c, err := newContext(control.DefaultConfig(opts...))
	require.NoError(t, err)
	port := newFakePort()
	c.attachSource(newCompletionSource(c.env(), port))
	t.Cleanup(func() {
		if !c.closed {
			c.Close()
		}
	})
	return c, port
}
