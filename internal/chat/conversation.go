package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/SupraChat/internal/attachments"
	"github.com/markdave123-py/SupraChat/internal/core"
	"github.com/markdave123-py/SupraChat/internal/core/llm"
	"github.com/markdave123-py/SupraChat/internal/models"
)

const (
	// AIPrefix marks a message that should also be answered by the assistant.
	AIPrefix = "ai:"
	// aiContextSize is how many recent messages the assistant sees.
	aiContextSize = 5
	// DefaultMaxAttachmentBytes applies when no limit is configured.
	DefaultMaxAttachmentBytes = 5 << 20
)

var aiPrefixPattern = regexp.MustCompile(`(?i)^ai:\s*`)

// ErrScopeChanged is returned when a send names a peer other than the one
// the conversation is currently scoped to.
var ErrScopeChanged = errors.New("conversation switched to another user, message not sent")

// Responder answers a prompt. It never fails; problems come back as text.
type Responder interface {
	Reply(ctx context.Context, prompt string, history []string) string
}

// Describer renders a message as text for the assistant's context.
type Describer interface {
	Describe(ctx context.Context, m models.Message) string
}

// Archiver keeps a copy of a sent attachment, possibly in the background.
type Archiver interface {
	Archive(ctx context.Context, userID, messageID, fileName, contentType string, data []byte) error
}

// IsAITrigger reports whether content asks the assistant for an answer.
func IsAITrigger(content string) bool {
	return strings.HasPrefix(strings.ToLower(content), AIPrefix)
}

// ConversationTopic is the realtime topic of the pair, the same for both
// participants.
func ConversationTopic(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return "chat_" + strings.Join(ids, "_")
}

// ConversationOptions wires the optional collaborators of a
// ConversationController.
type ConversationOptions struct {
	Assistant Responder
	Describer Describer
	// Archiver, when set, receives every attachment after it is sent.
	Archiver Archiver
	// OnSchemaMissing is called when a call fails because a table is absent.
	OnSchemaMissing func()
	// OnInputCleared runs right before a typed message goes out.
	OnInputCleared     func()
	MaxAttachmentBytes int
	Logger             *slog.Logger
}

// ConversationSnapshot is a copy of the active conversation.
type ConversationSnapshot struct {
	SelfID   string
	PeerID   string
	Messages []models.Message
	Typing   bool
	Notice   string
}

// ConversationController holds the messages between the signed-in user and
// the selected peer and keeps them live.
type ConversationController struct {
	backend   core.Backend
	assistant Responder
	describer Describer
	archiver  Archiver
	onMissing func()
	onCleared func()
	maxBytes  int
	logger    *slog.Logger
	now       func() time.Time

	// scopeMu serializes SetScope so channel teardown and reopen never
	// interleave.
	scopeMu  sync.Mutex
	scopeSeq uint64

	mu       sync.Mutex
	selfID   string
	peerID   string
	messages []models.Message
	typing   int
	notice   string
	// generation changes with every scope; late results of an older scope
	// are dropped.
	generation uint64
	channel    core.Channel

	observers observers[ConversationSnapshot]
}

func NewConversationController(backend core.Backend, opts ConversationOptions) *ConversationController {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	assistant := opts.Assistant
	if assistant == nil {
		assistant = llm.NewAssistant(nil, logger)
	}
	maxBytes := opts.MaxAttachmentBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAttachmentBytes
	}
	return &ConversationController{
		backend:   backend,
		assistant: assistant,
		describer: opts.Describer,
		archiver:  opts.Archiver,
		onMissing: opts.OnSchemaMissing,
		onCleared: opts.OnInputCleared,
		maxBytes:  maxBytes,
		logger:    logger,
		now:       time.Now,
	}
}

// Subscribe registers fn for every change. fn runs synchronously and must not
// call back into the controller.
func (c *ConversationController) Subscribe(fn func(ConversationSnapshot)) (unsubscribe func()) {
	return c.observers.add(fn)
}

func (c *ConversationController) Snapshot() ConversationSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConversationSnapshot{
		SelfID:   c.selfID,
		PeerID:   c.peerID,
		Messages: append([]models.Message(nil), c.messages...),
		Typing:   c.typing > 0,
		Notice:   c.notice,
	}
}

func (c *ConversationController) notify() {
	c.observers.publish(c.Snapshot)
}

func (c *ConversationController) reportMissing() {
	if c.onMissing != nil {
		c.onMissing()
	}
}

// SetScope switches to the conversation of selfID and peerID, tearing down
// the previous subscription first. An empty id clears the conversation.
func (c *ConversationController) SetScope(ctx context.Context, selfID, peerID string) {
	c.scopeMu.Lock()
	c.rescope(ctx, selfID, peerID)
}

// SetScopeAt is SetScope for callers that issue scope changes concurrently.
// seq must grow with every request; a request older than the last applied
// one is ignored and SetScopeAt reports false.
func (c *ConversationController) SetScopeAt(ctx context.Context, seq uint64, selfID, peerID string) bool {
	c.scopeMu.Lock()
	if seq <= c.scopeSeq {
		c.scopeMu.Unlock()
		c.logger.Debug("ignoring stale scope request", "seq", seq, "peer_id", peerID)
		return false
	}
	c.scopeSeq = seq
	c.rescope(ctx, selfID, peerID)
	return true
}

// rescope runs with scopeMu held and releases it before loading history.
func (c *ConversationController) rescope(ctx context.Context, selfID, peerID string) {
	c.mu.Lock()
	if c.selfID == selfID && c.peerID == peerID {
		c.mu.Unlock()
		c.scopeMu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	old := c.channel
	c.channel = nil
	c.selfID, c.peerID = selfID, peerID
	c.messages = nil
	c.typing = 0
	c.notice = ""
	c.mu.Unlock()

	if old != nil {
		if err := c.backend.RemoveChannel(old); err != nil {
			c.logger.Warn("remove conversation channel failed", "topic", old.Topic(), "error", err)
		}
	}
	if selfID == "" || peerID == "" {
		c.scopeMu.Unlock()
		c.notify()
		return
	}

	topic := ConversationTopic(selfID, peerID)
	ch := c.backend.Channel(topic, core.ChannelOptions{}).
		OnChange(core.ChangeFilter{Table: "messages", Event: models.ChangeInsert}, func(change models.Change) {
			c.applyInsert(gen, change)
		}).
		Subscribe(func(status core.SubscribeStatus, err error) {
			if status == core.ChannelError && core.IsSchemaMissing(err) {
				c.reportMissing()
			}
		})
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
	c.scopeMu.Unlock()

	c.logger.Debug("conversation scoped", "topic", topic)
	c.notify()
	c.loadHistory(ctx, gen, selfID, peerID)
}

// Close drops the conversation and its subscription.
func (c *ConversationController) Close() {
	c.SetScope(context.Background(), "", "")
}

func (c *ConversationController) loadHistory(ctx context.Context, gen uint64, selfID, peerID string) {
	history, err := c.backend.ListConversation(ctx, selfID, peerID)
	if err != nil {
		if core.IsSchemaMissing(err) {
			c.reportMissing()
			return
		}
		c.logger.Warn("load history failed", "peer_id", peerID, "error", err)
		c.setNotice(gen, fmt.Sprintf("Could not load messages: %v", err))
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.messages = mergeHistory(history, c.messages)
	c.mu.Unlock()
	c.notify()
}

// mergeHistory keeps the fetched order and appends messages that arrived
// while the fetch was in flight.
func mergeHistory(history, current []models.Message) []models.Message {
	out := make([]models.Message, 0, len(history)+len(current))
	seen := make(map[string]struct{}, len(history))
	for _, m := range history {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	for _, m := range current {
		if _, dup := seen[m.ID]; !dup {
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

func (c *ConversationController) applyInsert(gen uint64, change models.Change) {
	var m models.Message
	if err := change.DecodeRecord(&m); err != nil {
		c.logger.Warn("bad message change", "error", err)
		return
	}
	c.mu.Lock()
	if gen != c.generation || !m.Between(c.selfID, c.peerID) || !c.appendLocked(m) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.notify()
}

// appendLocked adds m unless a message with its id is already present.
func (c *ConversationController) appendLocked(m models.Message) bool {
	for _, existing := range c.messages {
		if existing.ID == m.ID {
			return false
		}
	}
	c.messages = append(c.messages, m)
	return true
}

func (c *ConversationController) setNotice(gen uint64, notice string) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.notice = notice
	c.mu.Unlock()
	c.notify()
}

// ClearNotice drops the current notice.
func (c *ConversationController) ClearNotice() {
	c.mu.Lock()
	c.notice = ""
	c.mu.Unlock()
	c.notify()
}

// Send posts a typed text message to peerID, which must be the peer the
// conversation is scoped to; otherwise nothing is sent and ErrScopeChanged is
// returned. Blank content or a missing scope is a no-op. A message starting
// with "ai:" is also answered by the assistant.
func (c *ConversationController) Send(ctx context.Context, peerID, content string) (*models.Message, error) {
	return c.send(ctx, peerID, content, models.MessageText, nil, false)
}

func (c *ConversationController) send(ctx context.Context, expectPeer, content string, typ models.MessageType, fileName *string, programmatic bool) (*models.Message, error) {
	c.mu.Lock()
	selfID, peerID, gen := c.selfID, c.peerID, c.generation
	c.mu.Unlock()
	if strings.TrimSpace(content) == "" || selfID == "" || peerID == "" {
		return nil, nil
	}
	if expectPeer != peerID {
		return nil, ErrScopeChanged
	}
	if !programmatic && c.onCleared != nil {
		c.onCleared()
	}

	row, err := c.backend.InsertMessage(ctx, models.NewMessage{
		Content:     content,
		SenderID:    selfID,
		ReceiverID:  peerID,
		MessageType: typ,
		FileName:    fileName,
	})
	var (
		sent    *models.Message
		sendErr error
	)
	switch {
	case err == nil:
		sent = row
	case core.IsSchemaMissing(err):
		c.reportMissing()
		sent = &models.Message{
			ID:          uuid.NewString(),
			CreatedAt:   c.now().UTC(),
			Content:     content,
			SenderID:    selfID,
			ReceiverID:  peerID,
			MessageType: typ,
			FileName:    fileName,
		}
		c.logger.Info("messages table missing, keeping message locally", "message_id", sent.ID)
	default:
		c.logger.Warn("send message failed", "peer_id", peerID, "error", err)
		sendErr = fmt.Errorf("send message: %w", err)
		c.setNotice(gen, fmt.Sprintf("Message not sent: %v", err))
	}

	if sent != nil {
		c.mu.Lock()
		added := gen == c.generation && c.appendLocked(*sent)
		c.mu.Unlock()
		if added {
			c.notify()
		}
	}
	if IsAITrigger(content) {
		c.respondAI(ctx, gen, content)
	}
	return sent, sendErr
}

func (c *ConversationController) respondAI(ctx context.Context, gen uint64, content string) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	selfID := c.selfID
	recent := c.messages
	if len(recent) > aiContextSize {
		recent = recent[len(recent)-aiContextSize:]
	}
	recent = append([]models.Message(nil), recent...)
	c.typing++
	c.mu.Unlock()
	c.notify()

	history := make([]string, 0, len(recent))
	for _, m := range recent {
		if c.describer != nil {
			history = append(history, c.describer.Describe(ctx, m))
		} else {
			history = append(history, m.Content)
		}
	}
	prompt := aiPrefixPattern.ReplaceAllString(content, "")
	answer := c.assistant.Reply(ctx, prompt, history)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Debug("dropping assistant reply for a closed conversation")
		return
	}
	c.typing--
	c.messages = append(c.messages, models.Message{
		ID:          "ai-" + uuid.NewString(),
		CreatedAt:   c.now().UTC(),
		Content:     answer,
		SenderID:    models.AISenderID,
		ReceiverID:  selfID,
		IsAI:        true,
		MessageType: models.MessageText,
	})
	c.mu.Unlock()
	c.notify()
}

// Attach reads the file at path and sends it to peerID as an image or file
// message. peerID is checked like in Send.
func (c *ConversationController) Attach(ctx context.Context, peerID, path string) (*models.Message, error) {
	file, err := attachments.Load(path, c.maxBytes)
	if err != nil {
		c.mu.Lock()
		gen := c.generation
		c.mu.Unlock()
		c.setNotice(gen, fmt.Sprintf("Could not attach: %v", err))
		return nil, err
	}
	name := file.Name
	sent, err := c.send(ctx, peerID, file.DataURI(), file.Type(), &name, true)
	if err != nil || sent == nil || c.archiver == nil {
		return sent, err
	}
	if err := c.archiver.Archive(ctx, sent.SenderID, sent.ID, name, file.ContentType, file.Data); err != nil {
		c.logger.Warn("archive attachment failed", "message_id", sent.ID, "error", err)
	}
	return sent, nil
}

// SaveAttachment writes the attachment of the n-th message (1-based) into
// dir and returns the written path.
func (c *ConversationController) SaveAttachment(n int, dir string) (string, error) {
	c.mu.Lock()
	if n < 1 || n > len(c.messages) {
		count := len(c.messages)
		c.mu.Unlock()
		return "", fmt.Errorf("no message %d (conversation has %d)", n, count)
	}
	msg := c.messages[n-1]
	c.mu.Unlock()
	return attachments.Save(msg, dir)
}
