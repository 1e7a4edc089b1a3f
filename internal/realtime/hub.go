package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/models"
)

const messagesTable = "messages"

// Event types written on a realtime stream.
const (
	EventSystem       = "system"
	EventPresenceSync = "presence_sync"
	EventChanges      = "postgres_changes"
)

// Event is one Server-Sent Event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SystemPayload is the first event of every stream.
type SystemPayload struct {
	Status         string `json:"status"`
	SubscriptionID string `json:"subscription_id"`
}

// Subscriber is one open stream on a topic.
type Subscriber struct {
	ID    string
	Topic string
	// UserID is the authenticated owner of the stream.
	UserID      string
	PresenceKey string
	Filters     []core.ChangeFilter

	events chan Event
}

// Events is closed when the subscriber leaves the hub.
func (s *Subscriber) Events() <-chan Event { return s.events }

func (s *Subscriber) wants(c models.Change) bool {
	for _, f := range s.Filters {
		if f.Matches(c) {
			return true
		}
	}
	return false
}

type topic struct {
	subs map[*Subscriber]struct{}
	// presence: key -> subscription id -> tracked meta
	presence map[string]map[string]map[string]any
}

// Hub fans row changes and presence snapshots out to subscribers.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topic
	buffer int
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{topics: map[string]*topic{}, buffer: 32, logger: logger}
}

// Join registers a stream owned by userID and queues its system event and
// the current presence snapshot.
func (h *Hub) Join(topicName, userID, presenceKey string, filters []core.ChangeFilter) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topics[topicName]
	if t == nil {
		t = &topic{subs: map[*Subscriber]struct{}{}, presence: map[string]map[string]map[string]any{}}
		h.topics[topicName] = t
	}
	sub := &Subscriber{
		ID:          uuid.NewString(),
		Topic:       topicName,
		UserID:      userID,
		PresenceKey: presenceKey,
		Filters:     filters,
		events:      make(chan Event, h.buffer),
	}
	t.subs[sub] = struct{}{}

	sub.events <- Event{Type: EventSystem, Data: SystemPayload{Status: "ok", SubscriptionID: sub.ID}}
	sub.events <- Event{Type: EventPresenceSync, Data: t.snapshot()}

	h.logger.Debug("realtime subscriber joined", "topic", topicName, "subscription_id", sub.ID, "subscribers", len(t.subs))
	return sub
}

// Leave removes sub, drops any presence it tracked and closes its event
// channel.
func (h *Hub) Leave(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topics[sub.Topic]
	if t == nil {
		return
	}
	if _, ok := t.subs[sub]; !ok {
		return
	}
	delete(t.subs, sub)
	close(sub.events)

	if h.untrack(t, sub) {
		h.broadcast(t, Event{Type: EventPresenceSync, Data: t.snapshot()})
	}
	if len(t.subs) == 0 {
		delete(h.topics, sub.Topic)
	}
	h.logger.Debug("realtime subscriber left", "topic", sub.Topic, "subscription_id", sub.ID)
}

// Track records meta under the subscriber's presence key and pushes the new
// snapshot to the topic. It returns false when the subscription is unknown
// or not owned by userID.
func (h *Hub) Track(topicName, subscriptionID, userID string, meta map[string]any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topics[topicName]
	if t == nil {
		return false
	}
	sub := t.find(subscriptionID)
	if sub == nil || sub.PresenceKey == "" || sub.UserID != userID {
		return false
	}
	if meta == nil {
		meta = map[string]any{}
	}
	byConn := t.presence[sub.PresenceKey]
	if byConn == nil {
		byConn = map[string]map[string]any{}
		t.presence[sub.PresenceKey] = byConn
	}
	byConn[sub.ID] = meta

	h.broadcast(t, Event{Type: EventPresenceSync, Data: t.snapshot()})
	return true
}

// PresenceState returns the current snapshot of a topic.
func (h *Hub) PresenceState(topicName string) models.PresenceState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t := h.topics[topicName]
	if t == nil {
		return models.PresenceState{}
	}
	return t.snapshot()
}

// PublishChange delivers c to every subscriber whose filters match it.
// Message rows only reach streams owned by their sender or receiver.
func (h *Hub) PublishChange(c models.Change) {
	sender, receiver, private := participants(c)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, t := range h.topics {
		for sub := range t.subs {
			if !sub.wants(c) {
				continue
			}
			if private && (sub.UserID == "" || (sub.UserID != sender && sub.UserID != receiver)) {
				continue
			}
			h.send(sub, Event{Type: EventChanges, Data: c})
		}
	}
}

// participants returns the sender and receiver of a messages change. private
// is false for tables readable by every signed-in user.
func participants(c models.Change) (sender, receiver string, private bool) {
	if c.Table != messagesTable {
		return "", "", false
	}
	var m models.Message
	if err := c.DecodeRecord(&m); err != nil {
		return "", "", true
	}
	return m.SenderID, m.ReceiverID, true
}

// SubscriberCount reports how many streams are open on a topic.
func (h *Hub) SubscriberCount(topicName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if t := h.topics[topicName]; t != nil {
		return len(t.subs)
	}
	return 0
}

func (h *Hub) broadcast(t *topic, ev Event) {
	for sub := range t.subs {
		h.send(sub, ev)
	}
}

// send never blocks; a full subscriber misses the event.
func (h *Hub) send(sub *Subscriber, ev Event) {
	select {
	case sub.events <- ev:
	default:
		h.logger.Warn("realtime subscriber buffer full, dropping event", "topic", sub.Topic, "subscription_id", sub.ID, "event", ev.Type)
	}
}

func (h *Hub) untrack(t *topic, sub *Subscriber) bool {
	byConn := t.presence[sub.PresenceKey]
	if byConn == nil {
		return false
	}
	if _, ok := byConn[sub.ID]; !ok {
		return false
	}
	delete(byConn, sub.ID)
	if len(byConn) == 0 {
		delete(t.presence, sub.PresenceKey)
	}
	return true
}

func (t *topic) find(id string) *Subscriber {
	for sub := range t.subs {
		if sub.ID == id {
			return sub
		}
	}
	return nil
}

func (t *topic) snapshot() models.PresenceState {
	out := make(models.PresenceState, len(t.presence))
	for key, byConn := range t.presence {
		metas := make([]map[string]any, 0, len(byConn))
		for _, meta := range byConn {
			copied := make(map[string]any, len(meta))
			for k, v := range meta {
				copied[k] = v
			}
			metas = append(metas, copied)
		}
		out[key] = metas
	}
	return out
}

// FormatSSE formats an event in text/event-stream framing.
func FormatSSE(event Event) ([]byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte("event: " + event.Type + "\ndata: " + string(data) + "\n\n"), nil
}
