// Package queuetest records dispatcher traffic in memory.
package queuetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/maheshrc27/postscheduler/internal/queue"
)

type Dispatch struct {
	Handle          string
	Kind            string
	ScheduledPostID int64
	NotBefore       time.Time
}

type Dispatcher struct {
	mu         sync.Mutex
	seq        int
	Dispatched []Dispatch
	Cancelled  []string

	// DispatchErr and CancelErr, when set, fail the matching call.
	DispatchErr error
	CancelErr   error
}

var _ queue.Dispatcher = (*Dispatcher)(nil)

func (d *Dispatcher) Dispatch(_ context.Context, kind, subject string, payload []byte, notBefore time.Time) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DispatchErr != nil {
		return "", d.DispatchErr
	}

	var p queue.PublishPostPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", err
	}

	d.seq++
	handle := fmt.Sprintf("%s:%s:%d", kind, subject, d.seq)
	d.Dispatched = append(d.Dispatched, Dispatch{
		Handle:          handle,
		Kind:            kind,
		ScheduledPostID: p.ScheduledPostID,
		NotBefore:       notBefore,
	})
	return handle, nil
}

func (d *Dispatcher) Cancel(_ context.Context, handle string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Cancelled = append(d.Cancelled, handle)
	return d.CancelErr
}

func (d *Dispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Dispatched)
}

func (d *Dispatcher) Last() Dispatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Dispatched) == 0 {
		return Dispatch{}
	}
	return d.Dispatched[len(d.Dispatched)-1]
}

func (d *Dispatcher) CancelledHandles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.Cancelled...)
}
