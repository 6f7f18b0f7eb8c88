// Package llm defines the request/response contract shared by the battle
// agents and the judge, and the backends that fulfil it.
package llm

import (
	"context"

	"github.com/tatianab/silver-tongue/internal/models"
)

// Roles used in conversation history.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Request labels, used for tracing and by the mock backend to pick a script.
const (
	LabelPlayer   = "player"
	LabelOpponent = "opponent"
	LabelJudge    = "judge"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single generation request.
type Request struct {
	Label          string
	SystemPrompt   string
	History        []Message
	ThinkingEffort models.ThinkingEffort
}

// Response is the outcome of a generation after any backend-internal retries.
// Failure is reported with Success=false and Error set, never as a Go error.
type Response struct {
	Success        bool
	Content        string
	ThoughtSummary string
	Error          string
}

// Failed builds an unsuccessful response.
func Failed(err string) Response {
	return Response{Success: false, Error: err}
}

// Backend generates a response for a request.
type Backend interface {
	GenerateResponse(ctx context.Context, req Request) Response
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, req Request) Response

func (f BackendFunc) GenerateResponse(ctx context.Context, req Request) Response {
	return f(ctx, req)
}
