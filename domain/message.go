// Package domain contains core concepts of the relay.
// This file defines Message values exchanged in broadcast mode.
// Messages are immutable once built and shared by every delivery of a broadcast.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ServerSender labels messages produced by the relay itself.
const ServerSender = "Server"

// Message represents an immutable chat line.
type Message struct {
	ID      uuid.UUID // unique identifier
	Sender  string
	Content string
	At      time.Time
}

func NewMessage(sender, content string) *Message {
	return &Message{
		ID:      uuid.New(),
		Sender:  sender,
		Content: content,
		At:      time.Now().UTC(),
	}
}

// String is the wire form of a message, without the line delimiter.
func (m *Message) String() string {
	return m.Sender + ":" + m.Content
}

func JoinMessage(username string) *Message {
	return NewMessage(ServerSender, "Hello, "+username+"!")
}

func LeaveMessage(username string) *Message {
	return NewMessage(ServerSender, username+" has left the chat!")
}

// Verdict is the outcome of moderating one chat line.
type Verdict struct {
	Content  string   // line as it will be relayed
	Words    []string // dictionary words found, in order of appearance
	Language string   // ISO 639-1 code, empty when undetected
}
