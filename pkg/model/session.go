package model

import (
	"sync"

	"google.golang.org/genai"
)

type ChatRole string

const (
	ChatRoleUser  ChatRole = genai.RoleUser
	ChatRoleModel ChatRole = genai.RoleModel
)

// ChatMessage is one turn of a conversation
type ChatMessage struct {
	Role ChatRole `json:"role"`
	Text string   `json:"text"`
}

// Content converts the message into a genai content
func (x ChatMessage) Content() *genai.Content {
	return genai.NewContentFromText(x.Text, genai.Role(x.Role))
}

// Session is a process-local handle of a multi-turn conversation. It holds
// the turns exchanged so far and the generation config of the thread.
type Session struct {
	mu       sync.Mutex
	config   *genai.GenerateContentConfig
	contents []*genai.Content
}

// NewSession creates a session seeded with prior turns
func NewSession(config *genai.GenerateContentConfig, prior ...ChatMessage) *Session {
	s := &Session{config: config}
	for _, msg := range prior {
		s.contents = append(s.contents, msg.Content())
	}
	return s
}

// Config returns the generation config of the thread
func (x *Session) Config() *genai.GenerateContentConfig {
	return x.config
}

// Contents returns a copy of the turns followed by next. The session itself
// is not modified.
func (x *Session) Contents(next ...*genai.Content) []*genai.Content {
	x.mu.Lock()
	defer x.mu.Unlock()

	contents := make([]*genai.Content, 0, len(x.contents)+len(next))
	contents = append(contents, x.contents...)
	contents = append(contents, next...)
	return contents
}

// Record appends a completed exchange
func (x *Session) Record(user, reply *genai.Content) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.contents = append(x.contents, user, reply)
}

// Turns returns the number of recorded contents
func (x *Session) Turns() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.contents)
}
