// Package model defines the vendor-neutral chat completion interface the
// orchestration engine drives, plus a deterministic mock for tests. Provider
// adapters live in subpackages.
package model

import (
	"context"
	"fmt"
	"sync"
)

// Part is one element of a mixed text/image message body.
type Part struct {
	Type     string `json:"type"` // "text" or "image_url"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message is a single chat turn. Content carries plain text; Parts, when
// non-empty, carries the array form used for image-bearing turns and takes
// precedence over Content.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
	Parts   []Part `json:"parts,omitempty"`
}

// SystemMessage builds a system-role turn.
func SystemMessage(text string) Message { return Message{Role: "system", Content: text} }

// UserMessage builds a user-role turn.
func UserMessage(text string) Message { return Message{Role: "user", Content: text} }

// AssistantMessage builds an assistant-role turn.
func AssistantMessage(text string) Message { return Message{Role: "assistant", Content: text} }

// Request captures the normalized completion input produced by the session.
type Request struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int64     `json:"max_tokens,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Model is the minimal interface required to drive a generation. Complete
// blocks until the full reply is available; an empty reply with a nil error
// is the safety-block case the session handles with a fallback request.
type Model interface {
	Complete(ctx context.Context, req Request) (string, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a deterministic in-memory Model for tests. Responses are
// consumed FIFO; every request is recorded for call-count assertions.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses []string
	err       error
	calls     []Request
}

// NewMockModel constructs an empty mock.
func NewMockModel() *MockModel {
	return &MockModel{info: Info{Name: "mock", Provider: "mock"}}
}

// Enqueue appends canned replies consumed in order by Complete.
func (m *MockModel) Enqueue(responses ...string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
	return m
}

// Fail makes every subsequent Complete return err.
func (m *MockModel) Fail(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Calls returns a copy of every recorded request.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// CallCount returns how many completions were requested.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Complete implements Model.
func (m *MockModel) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", fmt.Errorf("mock model: no responses queued")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
