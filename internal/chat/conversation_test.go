package chat

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/SupraChat/internal/models"
)

func newConversation(t *testing.T, be *fakeBackend, opts ConversationOptions) *ConversationController {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	c := NewConversationController(be, opts)
	t.Cleanup(c.Close)
	return c
}

func TestConversationTopicIsSymmetric(t *testing.T) {
	assert.Equal(t, "chat_alice_bob", ConversationTopic("alice", "bob"))
	assert.Equal(t, ConversationTopic("alice", "bob"), ConversationTopic("bob", "alice"))
}

func TestIsAITrigger(t *testing.T) {
	assert.True(t, IsAITrigger("ai: What is 2+2?"))
	assert.True(t, IsAITrigger("AI:hello"))
	assert.False(t, IsAITrigger("hello ai: there"))
	assert.False(t, IsAITrigger(" ai: leading space"))
	assert.False(t, IsAITrigger("ai"))
}

func TestConversation_SendAppendsOnceDespiteEcho(t *testing.T) {
	be := newFakeBackend()
	c := newConversation(t, be, ConversationOptions{})
	c.SetScope(context.Background(), "alice", "bob")

	sent, err := c.Send(context.Background(), "bob", "hello bob")
	require.NoError(t, err)
	require.NotNil(t, sent)

	ch := be.lastChannel(ConversationTopic("alice", "bob"))
	require.NotNil(t, ch)
	ch.emitChange("messages", models.ChangeInsert, *sent)

	msgs := c.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)
	assert.Len(t, be.messages, 1)
}

func TestConversation_BlankOrUnscopedSendIsNoop(t *testing.T) {
	be := newFakeBackend()
	var cleared atomic.Int32
	c := newConversation(t, be, ConversationOptions{OnInputCleared: func() { cleared.Add(1) }})

	sent, err := c.Send(context.Background(), "bob", "hello")
	assert.NoError(t, err)
	assert.Nil(t, sent, "no peer selected")

	c.SetScope(context.Background(), "alice", "bob")
	sent, err = c.Send(context.Background(), "bob", "  \n\t")
	assert.NoError(t, err)
	assert.Nil(t, sent)
	assert.Empty(t, be.messages)
	assert.Zero(t, cleared.Load())

	_, err = c.Send(context.Background(), "bob", "hi")
	require.NoError(t, err)
	assert.EqualValues(t, 1, cleared.Load())
}

func TestConversation_SchemaMissingFallsBackToLocal(t *testing.T) {
	be := newFakeBackend()
	be.insertErr = schemaMissing()
	be.historyErr = schemaMissing()
	var missing atomic.Int32
	c := newConversation(t, be, ConversationOptions{OnSchemaMissing: func() { missing.Add(1) }})
	c.SetScope(context.Background(), "alice", "bob")

	sent, err := c.Send(context.Background(), "bob", "still works")
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.NotEmpty(t, sent.ID)
	assert.False(t, sent.CreatedAt.IsZero())
	assert.Equal(t, "alice", sent.SenderID)
	assert.Equal(t, "bob", sent.ReceiverID)

	msgs := c.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "still works", msgs[0].Content)
	assert.Empty(t, be.messages, "nothing persisted")
	assert.EqualValues(t, 2, missing.Load())
}

func TestConversation_OtherSendErrorIsReported(t *testing.T) {
	be := newFakeBackend()
	be.insertErr = errors.New("connection reset")
	c := newConversation(t, be, ConversationOptions{})
	c.SetScope(context.Background(), "alice", "bob")

	sent, err := c.Send(context.Background(), "bob", "lost")
	assert.Nil(t, sent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	snap := c.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Contains(t, snap.Notice, "connection reset")
}

func TestConversation_ScopingFiltersAndReloads(t *testing.T) {
	be := newFakeBackend()
	be.messages = []models.Message{
		{ID: "1", SenderID: "alice", ReceiverID: "bob", Content: "to bob"},
		{ID: "2", SenderID: "bob", ReceiverID: "alice", Content: "from bob"},
		{ID: "3", SenderID: "carol", ReceiverID: "alice", Content: "from carol"},
	}
	c := newConversation(t, be, ConversationOptions{})
	c.SetScope(context.Background(), "alice", "bob")
	assert.Equal(t, []string{"1", "2"}, messageIDs(c.Snapshot().Messages))

	bobChannel := be.lastChannel(ConversationTopic("alice", "bob"))
	bobChannel.emitChange("messages", models.ChangeInsert, models.Message{ID: "4", SenderID: "carol", ReceiverID: "alice"})
	bobChannel.emitChange("messages", models.ChangeInsert, models.Message{ID: "5", SenderID: "bob", ReceiverID: "alice"})
	assert.Equal(t, []string{"1", "2", "5"}, messageIDs(c.Snapshot().Messages))

	c.SetScope(context.Background(), "alice", "carol")
	assert.True(t, bobChannel.isClosed(), "old subscription torn down")
	snap := c.Snapshot()
	assert.Equal(t, "carol", snap.PeerID)
	assert.Equal(t, []string{"3"}, messageIDs(snap.Messages))

	bobChannel.emitChange("messages", models.ChangeInsert, models.Message{ID: "6", SenderID: "carol", ReceiverID: "alice"})
	assert.Equal(t, []string{"3"}, messageIDs(c.Snapshot().Messages), "late event of an old scope is dropped")

	c.Close()
	assert.True(t, be.lastChannel(ConversationTopic("alice", "carol")).isClosed())
	assert.Empty(t, c.Snapshot().Messages)
}

func TestConversation_StaleHistoryIsDiscarded(t *testing.T) {
	be := newFakeBackend()
	be.messages = []models.Message{
		{ID: "b1", SenderID: "alice", ReceiverID: "bob"},
		{ID: "c1", SenderID: "alice", ReceiverID: "carol"},
	}
	gate := make(chan struct{})
	waiting := make(chan string, 1)
	be.historyGate, be.historyWaiting = gate, waiting
	c := newConversation(t, be, ConversationOptions{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.SetScope(context.Background(), "alice", "bob")
	}()
	assert.Equal(t, "bob", <-waiting)

	be.mu.Lock()
	be.historyGate = nil
	be.mu.Unlock()
	c.SetScope(context.Background(), "alice", "carol")
	close(gate)
	<-done

	snap := c.Snapshot()
	assert.Equal(t, "carol", snap.PeerID)
	assert.Equal(t, []string{"c1"}, messageIDs(snap.Messages))
}

func TestConversation_OlderScopeRequestIsIgnored(t *testing.T) {
	be := newFakeBackend()
	c := newConversation(t, be, ConversationOptions{})

	assert.True(t, c.SetScopeAt(context.Background(), 2, "alice", "carol"))
	assert.False(t, c.SetScopeAt(context.Background(), 1, "alice", "bob"), "request issued before carol was selected")
	assert.Equal(t, "carol", c.Snapshot().PeerID)
	assert.Nil(t, be.lastChannel(ConversationTopic("alice", "bob")))

	assert.True(t, c.SetScopeAt(context.Background(), 3, "", ""))
	assert.Empty(t, c.Snapshot().PeerID)
}

func TestConversation_SendToAnotherPeerIsRejected(t *testing.T) {
	be := newFakeBackend()
	var cleared atomic.Int32
	c := newConversation(t, be, ConversationOptions{OnInputCleared: func() { cleared.Add(1) }})
	c.SetScope(context.Background(), "alice", "bob")

	sent, err := c.Send(context.Background(), "carol", "meant for carol")
	assert.ErrorIs(t, err, ErrScopeChanged)
	assert.Nil(t, sent)
	assert.Empty(t, be.messages)
	assert.Zero(t, cleared.Load(), "input kept so the text can be resent")

	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o600))
	_, err = c.Attach(context.Background(), "carol", path)
	assert.ErrorIs(t, err, ErrScopeChanged)
	assert.Empty(t, be.messages)
}

func TestMergeHistoryKeepsLateArrivals(t *testing.T) {
	history := []models.Message{{ID: "1"}, {ID: "2"}}
	current := []models.Message{{ID: "2"}, {ID: "3"}}
	assert.Equal(t, []string{"1", "2", "3"}, messageIDs(mergeHistory(history, current)))
}

func TestConversation_AITrigger(t *testing.T) {
	be := newFakeBackend()
	ai := &fakeResponder{answer: "4"}
	c := newConversation(t, be, ConversationOptions{Assistant: ai})
	c.SetScope(context.Background(), "alice", "bob")

	_, err := c.Send(context.Background(), "bob", "ai: What is 2+2?")
	require.NoError(t, err)

	assert.Equal(t, "What is 2+2?", ai.prompt)
	assert.Equal(t, []string{"ai: What is 2+2?"}, ai.history)

	snap := c.Snapshot()
	require.Len(t, snap.Messages, 2)
	reply := snap.Messages[1]
	assert.Equal(t, "4", reply.Content)
	assert.Equal(t, models.AISenderID, reply.SenderID)
	assert.Equal(t, "alice", reply.ReceiverID)
	assert.True(t, reply.IsAI)
	assert.Equal(t, models.MessageText, reply.MessageType)
	assert.True(t, strings.HasPrefix(reply.ID, "ai-"))
	assert.False(t, snap.Typing)
	assert.Len(t, be.messages, 1, "the reply is never persisted")
}

func TestConversation_AIContextIsLastFiveMessages(t *testing.T) {
	be := newFakeBackend()
	for i := 0; i < 7; i++ {
		be.messages = append(be.messages, models.Message{ID: string(rune('a' + i)), SenderID: "bob", ReceiverID: "alice", Content: string(rune('a' + i))})
	}
	ai := &fakeResponder{answer: "ok"}
	c := newConversation(t, be, ConversationOptions{Assistant: ai})
	c.SetScope(context.Background(), "alice", "bob")

	_, err := c.Send(context.Background(), "bob", "AI:summarize")
	require.NoError(t, err)
	assert.Equal(t, "summarize", ai.prompt)
	assert.Equal(t, []string{"d", "e", "f", "g", "AI:summarize"}, ai.history)
}

func TestConversation_TypingWhileAssistantThinks(t *testing.T) {
	be := newFakeBackend()
	ai := &fakeResponder{answer: "done", gate: make(chan struct{})}
	c := newConversation(t, be, ConversationOptions{Assistant: ai})
	c.SetScope(context.Background(), "alice", "bob")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Send(context.Background(), "bob", "ai: wait")
	}()
	eventually(t, func() bool { return c.Snapshot().Typing }, "typing shown")
	close(ai.gate)
	<-done
	assert.False(t, c.Snapshot().Typing)
}

func TestConversation_AIReplyForClosedScopeIsDropped(t *testing.T) {
	be := newFakeBackend()
	ai := &fakeResponder{answer: "late", gate: make(chan struct{})}
	c := newConversation(t, be, ConversationOptions{Assistant: ai})
	c.SetScope(context.Background(), "alice", "bob")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Send(context.Background(), "bob", "ai: slow")
	}()
	eventually(t, func() bool { return c.Snapshot().Typing }, "typing shown")
	c.SetScope(context.Background(), "alice", "carol")
	close(ai.gate)
	<-done

	snap := c.Snapshot()
	assert.False(t, snap.Typing)
	for _, m := range snap.Messages {
		assert.False(t, m.IsAI)
	}
}

type prefixDescriber struct{}

func (prefixDescriber) Describe(ctx context.Context, m models.Message) string {
	if m.MessageType == models.MessageImage {
		return "[image]"
	}
	return m.Content
}

func TestConversation_AttachImage(t *testing.T) {
	png := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, bytes.Repeat([]byte{0}, 10*1024-8)...)
	path := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(path, png, 0o600))

	be := newFakeBackend()
	var cleared atomic.Int32
	archive := &fakeArchiver{}
	ai := &fakeResponder{answer: "a cat"}
	c := newConversation(t, be, ConversationOptions{
		Archiver:       archive,
		Assistant:      ai,
		Describer:      prefixDescriber{},
		OnInputCleared: func() { cleared.Add(1) },
	})
	c.SetScope(context.Background(), "alice", "bob")

	sent, err := c.Attach(context.Background(), "bob", path)
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Equal(t, models.MessageImage, sent.MessageType)
	require.NotNil(t, sent.FileName)
	assert.Equal(t, "cat.png", *sent.FileName)
	assert.True(t, strings.HasPrefix(sent.Content, "data:image/png;base64,"))
	assert.Zero(t, cleared.Load(), "attach does not clear the input")

	assert.Equal(t, []string{"alice/" + sent.ID}, archive.keys)
	assert.Equal(t, png, archive.data)

	_, err = c.Send(context.Background(), "bob", "ai: what is this?")
	require.NoError(t, err)
	assert.Equal(t, []string{"[image]", "ai: what is this?"}, ai.history)

	dir := t.TempDir()
	saved, err := c.SaveAttachment(1, dir)
	require.NoError(t, err)
	got, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, png, got)

	_, err = c.SaveAttachment(9, dir)
	assert.Error(t, err)
}

func TestConversation_AttachTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 2048), 0o600))

	be := newFakeBackend()
	c := newConversation(t, be, ConversationOptions{MaxAttachmentBytes: 1024})
	c.SetScope(context.Background(), "alice", "bob")

	_, err := c.Attach(context.Background(), "bob", path)
	require.Error(t, err)
	assert.NotEmpty(t, c.Snapshot().Notice)
	assert.Empty(t, be.messages)
}

func messageIDs(msgs []models.Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}
