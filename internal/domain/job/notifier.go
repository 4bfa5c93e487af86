// Package job holds runner-side policies shared by the queue backends and the job runner.
package job

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until a job submission notification arrives or ctx ends.
type Waiter interface {
	WaitForSubmission(ctx context.Context) error
}

// Notifier shares one submission listener between many subscribers.
type Notifier interface {
	Subscribe() (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure the default notifier.
type NotifierOptions struct {
	Waiter     Waiter
	WaitWindow time.Duration
	Backoff    time.Duration
}

// DefaultNotifier runs a single listen loop while at least one subscriber exists.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu     sync.Mutex
	subs   map[chan struct{}]struct{}
	cancel context.CancelFunc
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}

	waitWindow := opts.WaitWindow
	if waitWindow <= 0 {
		waitWindow = time.Minute
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	return &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: waitWindow,
		backoff:    backoff,
		subs:       make(map[chan struct{}]struct{}),
	}, nil
}

// Subscribe registers a wake-up channel. Signals are coalesced: a subscriber that is
// not receiving sees at most one pending signal.
func (n *DefaultNotifier) Subscribe() (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		go n.listenLoop(ctx)
	}

	ch := make(chan struct{}, 1)
	n.subs[ch] = struct{}{}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if _, ok := n.subs[ch]; !ok {
				return
			}
			delete(n.subs, ch)
			drainAndClose(ch)
			if len(n.subs) == 0 {
				n.stopListener()
			}
		})
	}
	return unsub, ch
}

// StopAll stops the listener and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stopListener()
	for ch := range n.subs {
		drainAndClose(ch)
		delete(n.subs, ch)
	}
}

func (n *DefaultNotifier) stopListener() {
	if n.cancel == nil {
		return
	}
	n.cancel()
	n.cancel = nil
}

func (n *DefaultNotifier) listenLoop(ctx context.Context) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForSubmission(waitCtx)
		cancel()

		// Wake subscribers on timeouts and errors too so they re-poll the store.
		n.broadcast()

		if err != nil && ctx.Err() == nil {
			timer := time.NewTimer(n.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (n *DefaultNotifier) broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// drainAndClose empties the buffer before closing so receivers observe closure immediately.
func drainAndClose(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
