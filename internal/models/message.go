package models

import "time"

// Broadcast is the recipient marker for messages addressed to every agent.
const Broadcast = "broadcast"

// Message types. The first three are the core vocabulary; the rest are
// replies and peer notices exchanged by the agent loops.
const (
	MsgTask     = "task"
	MsgAlert    = "alert"
	MsgRequest  = "request"
	MsgResponse = "response"
	MsgBlocker  = "blocker"
	MsgStatus   = "status"
)

// Message is one record of the message bus log. Its JSON shape is the wire
// contract between agent processes.
type Message struct {
	ID        string     `json:"id"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Type      string     `json:"type"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	Priority  string     `json:"priority"`
	Timestamp time.Time  `json:"timestamp"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	ReadBy    []string   `json:"read_by,omitempty"`
	ThreadID  string     `json:"thread_id"`
	ReplyTo   string     `json:"reply_to,omitempty"`
}

// ReadByAgent reports whether agent has consumed the message.
func (m *Message) ReadByAgent(agent string) bool {
	if m.Read {
		return true
	}
	for _, a := range m.ReadBy {
		if a == agent {
			return true
		}
	}
	return false
}

// ValidMessageType reports whether t is a known message type.
func ValidMessageType(t string) bool {
	switch t {
	case MsgTask, MsgAlert, MsgRequest, MsgResponse, MsgBlocker, MsgStatus:
		return true
	}
	return false
}
