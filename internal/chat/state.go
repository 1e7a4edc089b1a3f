// Package chat holds the client-side controllers: the session state
// machine, presence tracking and the active conversation.
package chat

import "fmt"

// State is the top-level screen state of the client.
type State string

const (
	StateAuth     State = "AUTH"
	StateSyncing  State = "SYNCING"
	StateChatting State = "CHATTING"
)

// Event drives State transitions.
type Event string

const (
	EventSessionObtained       Event = "SessionObtained"
	EventSessionLost           Event = "SessionLost"
	EventSchemaMissingDetected Event = "SchemaMissingDetected"
	EventSyncCompleted         Event = "SyncCompleted"
)

// Transition returns the state that follows ev in from. SchemaMissingDetected
// keeps the state; the caller raises the flag.
func Transition(from State, ev Event) (State, error) {
	switch ev {
	case EventSessionObtained:
		return StateSyncing, nil
	case EventSessionLost:
		return StateAuth, nil
	case EventSyncCompleted:
		if from == StateSyncing {
			return StateChatting, nil
		}
	case EventSchemaMissingDetected:
		if from == StateSyncing || from == StateChatting {
			return from, nil
		}
	}
	return from, fmt.Errorf("chat: %s not allowed in state %s", ev, from)
}
