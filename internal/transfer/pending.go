package transfer

import (
	"context"
	"sync"
	"time"
)

// Pending tracks an asynchronous request until it completes.
type Pending struct {
	id   uint64
	name string
	url  string

	once  sync.Once
	done  chan struct{}
	event Event
}

// NewPending creates the handle for request id.
func NewPending(id uint64, url, name string) *Pending {
	return &Pending{
		id:   id,
		name: name,
		url:  url,
		done: make(chan struct{}),
	}
}

func (p *Pending) ID() uint64   { return p.id }
func (p *Pending) Name() string { return p.name }
func (p *Pending) URL() string  { return p.url }

// Done is closed once the request has completed.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Event returns the completion event. It is only meaningful after Done is closed.
func (p *Pending) Event() Event {
	<-p.done

	return p.event
}

// Wait blocks until the request completes or ctx ends. The returned error is the
// event's error, or ctx.Err() when giving up early.
func (p *Pending) Wait(ctx context.Context) (Event, error) {
	select {
	case <-p.done:
		return p.event, p.event.Err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Complete records ev and releases waiters. Only the first call has an effect;
// it reports whether ev was the one recorded.
func (p *Pending) Complete(ev Event) bool {
	recorded := false

	p.once.Do(func() {
		ev.ID = p.id
		if ev.Name == "" {
			ev.Name = p.name
		}

		if ev.At.IsZero() {
			ev.At = time.Now()
		}

		p.event = ev
		recorded = true

		close(p.done)
	})

	return recorded
}
