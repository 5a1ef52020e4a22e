// File: reactor/source.go
// Author: momentics <momentics@gmail.com>
//
// eventSource is the capability set every backend provides. Shared state
// (table, entries, batch) stays in platform-neutral code; only arming,
// draining and cancelling differ.

package reactor

import (
	"time"

	"github.com/momentics/hioload-iocore/api"
	"github.com/momentics/hioload-iocore/control"
	"github.com/sirupsen/logrus"
)

type eventSource interface {
	// name identifies the backend in logs and probes.
	name() string
	// attach arms read monitoring on a client entry.
	attach(e *entry) error
	// attachListener arms a listening entry.
	attachListener(e *entry) error
	// detach cancels every pending operation of e. The caller removes e
	// from the table afterwards.
	detach(e *entry)
	// detachSlot recycles one accept slot of a listening entry.
	detachSlot(e *entry, slot int)
	// wait blocks up to timeout (negative: forever) for notifications and
	// appends classified events to b without exceeding its capacity. It
	// returns the number of notifications consumed, including dropped ones.
	wait(b *api.EventBatch, timeout time.Duration) (int, error)
	// close tears down every remaining entry and the facility.
	close() error
}

// sourceEnv carries what every backend shares with its context.
type sourceEnv struct {
	cfg     control.Config
	table   *table
	log     *logrus.Entry
	metrics *control.Metrics
}
