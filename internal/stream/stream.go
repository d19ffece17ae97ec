// Package stream implements the SSE client transport used to receive
// server-pushed job status events.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Event is one parsed server-sent event.
type Event struct {
	// Name is the value of the "event:" field, empty for unnamed events.
	Name string
	// Data is the joined "data:" payload.
	Data []byte
}

// Conn is one long-lived SSE connection. Events arrive on Events until the
// stream ends; a read failure is reported once on Err. Closing the connection
// is idempotent.
type Conn struct {
	events chan Event
	errs   chan error
	cancel context.CancelFunc
	body   io.Closer
	once   sync.Once
}

// Dial opens url as a text/event-stream and starts reading events. The
// supplied client should have no overall timeout; pass nil to use a default
// streaming client.
func Dial(ctx context.Context, client *http.Client, url string) (*Conn, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream: connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream: connect: unexpected status %d", resp.StatusCode)
	}

	c := &Conn{
		events: make(chan Event, 10),
		errs:   make(chan error, 1),
		cancel: cancel,
		body:   resp.Body,
	}
	go c.read(ctx, resp.Body)
	return c, nil
}

// Events returns the channel of parsed events. It is closed when the stream
// ends for any reason.
func (c *Conn) Events() <-chan Event { return c.events }

// Err reports an unexpected read failure. A clean end of stream closes Events
// without sending anything here.
func (c *Conn) Err() <-chan error { return c.errs }

// Close tears the connection down. Safe to call multiple times and after the
// stream already ended on its own.
func (c *Conn) Close() {
	c.once.Do(func() {
		c.cancel()
		c.body.Close()
	})
}

func (c *Conn) read(ctx context.Context, body io.Reader) {
	defer close(c.events)
	defer close(c.errs)

	reader := bufio.NewReader(body)
	var name string
	var data strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				c.errs <- err
			}
			return
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			// Blank line ends the event.
			if name != "" || data.Len() > 0 {
				select {
				case c.events <- Event{Name: name, Data: []byte(data.String())}:
				case <-ctx.Done():
					return
				}
				name = ""
				data.Reset()
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteString("\n")
			}
			// Only the single space after the colon is part of the framing;
			// the rest of the line is payload.
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		// id: and retry: fields are not used.
	}
}
