package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/markdave123-py/SupraChat/internal/chat"
)

type sessionMsg chat.SessionSnapshot

type conversationMsg chat.ConversationSnapshot

type inputClearedMsg struct{}

// Bridge carries controller notifications into the Bubble Tea program.
// Posting never blocks: when the queue is full the oldest message is
// dropped, which is safe because every snapshot carries the full state.
type Bridge struct {
	ch chan tea.Msg
}

func NewBridge() *Bridge {
	return &Bridge{ch: make(chan tea.Msg, 64)}
}

func (b *Bridge) post(msg tea.Msg) {
	for {
		select {
		case b.ch <- msg:
			return
		default:
		}
		select {
		case <-b.ch:
		default:
		}
	}
}

// SessionChanged is registered with SessionController.Subscribe.
func (b *Bridge) SessionChanged(s chat.SessionSnapshot) { b.post(sessionMsg(s)) }

// ConversationChanged is registered with ConversationController.Subscribe.
func (b *Bridge) ConversationChanged(s chat.ConversationSnapshot) { b.post(conversationMsg(s)) }

// InputCleared is the conversation's OnInputCleared hook.
func (b *Bridge) InputCleared() { b.post(inputClearedMsg{}) }

// next waits for the following notification.
func (b *Bridge) next() tea.Cmd {
	return func() tea.Msg { return <-b.ch }
}
