package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"genwatch/internal/backend"
	"genwatch/internal/stream"
)

// Observer delivers raw status payloads for one job until the job terminates
// or the observer is closed. Frames is closed when the transport ends; a
// transport fault is reported once on Err.
type Observer interface {
	Frames() <-chan []byte
	Err() <-chan error
	Close()
}

// ObserverFactory opens the transport for one job. The context is cancelled
// when monitoring for the job stops.
type ObserverFactory func(ctx context.Context, jobID string) (Observer, error)

// NewPushObserverFactory returns the default SSE-backed transport.
func NewPushObserverFactory(client *backend.Client) ObserverFactory {
	return func(ctx context.Context, jobID string) (Observer, error) {
		conn, err := client.OpenStatusStream(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return newPushObserver(ctx, conn), nil
	}
}

// pushObserver adapts a stream.Conn to the Observer contract.
type pushObserver struct {
	conn   *stream.Conn
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func newPushObserver(ctx context.Context, conn *stream.Conn) *pushObserver {
	o := &pushObserver{
		conn:   conn,
		frames: make(chan []byte, 10),
		done:   make(chan struct{}),
	}
	go o.relay(ctx)
	return o
}

func (o *pushObserver) relay(ctx context.Context) {
	defer close(o.frames)
	for {
		select {
		case ev, ok := <-o.conn.Events():
			if !ok {
				return
			}
			select {
			case o.frames <- ev.Data:
			case <-o.done:
				return
			case <-ctx.Done():
				return
			}
		case <-o.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (o *pushObserver) Frames() <-chan []byte { return o.frames }
func (o *pushObserver) Err() <-chan error     { return o.conn.Err() }

func (o *pushObserver) Close() {
	o.once.Do(func() {
		close(o.done)
		o.conn.Close()
	})
}

// maxPollFailures bounds consecutive snapshot-fetch failures before the poll
// transport gives up and reports the connection as lost.
const maxPollFailures = 5

// NewPollObserverFactory returns a fixed-interval polling transport for
// workflows whose backend does not expose a stream endpoint.
func NewPollObserverFactory(client *backend.Client, interval time.Duration) ObserverFactory {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return func(ctx context.Context, jobID string) (Observer, error) {
		o := &pollObserver{
			frames: make(chan []byte, 10),
			errs:   make(chan error, 1),
			done:   make(chan struct{}),
		}
		go o.poll(ctx, client, jobID, interval)
		return o, nil
	}
}

type pollObserver struct {
	frames chan []byte
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func (o *pollObserver) poll(ctx context.Context, client *backend.Client, jobID string, interval time.Duration) {
	defer close(o.frames)
	defer close(o.errs)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	fetch := func() bool {
		raw, err := client.GenerationStatus(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			failures++
			if failures >= maxPollFailures {
				o.errs <- fmt.Errorf("poll status: %w", err)
				return false
			}
			return true
		}
		failures = 0
		select {
		case o.frames <- raw:
			return true
		case <-o.done:
			return false
		case <-ctx.Done():
			return false
		}
	}

	if !fetch() {
		return
	}
	for {
		select {
		case <-ticker.C:
			if !fetch() {
				return
			}
		case <-o.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (o *pollObserver) Frames() <-chan []byte { return o.frames }
func (o *pollObserver) Err() <-chan error     { return o.errs }

func (o *pollObserver) Close() {
	o.once.Do(func() { close(o.done) })
}
