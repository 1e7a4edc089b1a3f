package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
	"github.com/markdave123-py/SupraChat/internal/realtime"
)

type changeHandler struct {
	filter core.ChangeFilter
	fn     func(models.Change)
}

// Channel is a realtime subscription backed by one SSE stream. A dropped
// stream is reopened after the client's retry delay until Unsubscribe.
type Channel struct {
	client *Client
	topic  string
	opts   core.ChannelOptions

	mu               sync.Mutex
	presenceHandlers []func(models.PresenceState)
	changeHandlers   []changeHandler
	state            models.PresenceState
	subscriptionID   string
	started          bool
	closed           bool
	cancel           context.CancelFunc
	done             chan struct{}
}

var _ core.Channel = (*Channel)(nil)

// Channel creates an unsubscribed channel on topic.
func (c *Client) Channel(topic string, opts core.ChannelOptions) core.Channel {
	ch := &Channel{client: c, topic: topic, opts: opts, state: models.PresenceState{}}
	c.mu.Lock()
	c.channels[ch] = struct{}{}
	c.mu.Unlock()
	return ch
}

// RemoveChannel unsubscribes ch and waits for its reader to exit.
func (c *Client) RemoveChannel(ch core.Channel) error {
	if ch == nil {
		return nil
	}
	if own, ok := ch.(*Channel); ok {
		c.mu.Lock()
		delete(c.channels, own)
		c.mu.Unlock()
	}
	return ch.Unsubscribe()
}

func (ch *Channel) Topic() string { return ch.topic }

func (ch *Channel) OnPresenceSync(fn func(state models.PresenceState)) core.Channel {
	ch.mu.Lock()
	ch.presenceHandlers = append(ch.presenceHandlers, fn)
	ch.mu.Unlock()
	return ch
}

func (ch *Channel) OnChange(filter core.ChangeFilter, fn func(change models.Change)) core.Channel {
	ch.mu.Lock()
	ch.changeHandlers = append(ch.changeHandlers, changeHandler{filter: filter, fn: fn})
	ch.mu.Unlock()
	return ch
}

// Subscribe opens the stream. fn receives SUBSCRIBED once the gateway has
// accepted the stream (again after every reconnect), CHANNEL_ERROR when it
// drops, and CLOSED after Unsubscribe.
func (ch *Channel) Subscribe(fn func(status core.SubscribeStatus, err error)) core.Channel {
	if fn == nil {
		fn = func(core.SubscribeStatus, error) {}
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.started || ch.closed {
		return ch
	}
	ch.started = true
	ctx, cancel := context.WithCancel(context.Background())
	ch.cancel = cancel
	ch.done = make(chan struct{})
	go ch.run(ctx, fn)
	return ch
}

func (ch *Channel) run(ctx context.Context, report func(core.SubscribeStatus, error)) {
	defer close(ch.done)
	defer report(core.ChannelClosed, nil)

	for {
		err := ch.stream(ctx, report)
		if ctx.Err() != nil {
			return
		}
		ch.mu.Lock()
		ch.subscriptionID = ""
		ch.mu.Unlock()

		ch.client.logger.Warn("realtime channel dropped", "topic", ch.topic, "error", err, "retry_in", ch.client.retryDelay)
		report(core.ChannelError, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(ch.client.retryDelay):
		}
	}
}

func (ch *Channel) streamURL() string {
	q := url.Values{}
	if ch.opts.PresenceKey != "" {
		q.Set("presence_key", ch.opts.PresenceKey)
	}
	ch.mu.Lock()
	filters := make([]core.ChangeFilter, 0, len(ch.changeHandlers))
	for _, h := range ch.changeHandlers {
		filters = append(filters, h.filter)
	}
	ch.mu.Unlock()
	if len(filters) > 0 {
		q.Set("changes", realtime.FormatFilters(filters))
	}
	u := ch.client.baseURL + "/api/realtime/" + url.PathEscape(ch.topic)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// stream holds one SSE connection until it fails or ctx is cancelled.
func (ch *Channel) stream(ctx context.Context, report func(core.SubscribeStatus, error)) error {
	token, err := ch.client.token()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ch.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("backend: failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := ch.client.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: connect %s: %w", ch.topic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var backendErr core.BackendError
		if json.Unmarshal(body, &backendErr) == nil && backendErr.Code != "" {
			backendErr.StatusCode = resp.StatusCode
			return &backendErr
		}
		return fmt.Errorf("backend: unexpected %d opening %s", resp.StatusCode, ch.topic)
	}

	err = readEvents(resp.Body, func(ev sseEvent) bool {
		if ctx.Err() != nil {
			return false
		}
		ch.dispatch(ev, report)
		return true
	})
	if err != nil {
		return err
	}
	return errors.New("backend: stream closed by gateway")
}

func (ch *Channel) dispatch(ev sseEvent, report func(core.SubscribeStatus, error)) {
	switch ev.Type {
	case realtime.EventSystem:
		var payload realtime.SystemPayload
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			ch.client.logger.Warn("bad system event", "topic", ch.topic, "error", err)
			return
		}
		ch.mu.Lock()
		ch.subscriptionID = payload.SubscriptionID
		ch.mu.Unlock()
		report(core.Subscribed, nil)

	case realtime.EventPresenceSync:
		var state models.PresenceState
		if err := json.Unmarshal([]byte(ev.Data), &state); err != nil {
			ch.client.logger.Warn("bad presence event", "topic", ch.topic, "error", err)
			return
		}
		if state == nil {
			state = models.PresenceState{}
		}
		ch.mu.Lock()
		ch.state = state
		handlers := append([]func(models.PresenceState){}, ch.presenceHandlers...)
		ch.mu.Unlock()
		for _, fn := range handlers {
			fn(state)
		}

	case realtime.EventChanges:
		var change models.Change
		if err := json.Unmarshal([]byte(ev.Data), &change); err != nil {
			ch.client.logger.Warn("bad change event", "topic", ch.topic, "error", err)
			return
		}
		ch.mu.Lock()
		handlers := append([]changeHandler{}, ch.changeHandlers...)
		ch.mu.Unlock()
		for _, h := range handlers {
			if h.filter.Matches(change) {
				h.fn(change)
			}
		}
	}
}

type trackRequest struct {
	SubscriptionID string         `json:"subscription_id"`
	Meta           map[string]any `json:"meta"`
}

// Track publishes this client's presence meta under the channel's key.
func (ch *Channel) Track(ctx context.Context, meta map[string]any) error {
	ch.mu.Lock()
	id := ch.subscriptionID
	ch.mu.Unlock()
	if id == "" {
		return fmt.Errorf("backend: channel %s is not subscribed", ch.topic)
	}
	path := "/api/realtime/" + url.PathEscape(ch.topic) + "/track"
	return ch.client.authed(ctx, http.MethodPost, path, trackRequest{SubscriptionID: id, Meta: meta}, nil, nil)
}

func (ch *Channel) PresenceState() models.PresenceState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make(models.PresenceState, len(ch.state))
	for k, v := range ch.state {
		out[k] = v
	}
	return out
}

// Unsubscribe must not be called from one of this channel's own handlers.
func (ch *Channel) Unsubscribe() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	cancel, done := ch.cancel, ch.done
	ch.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
