package reason

import "strings"

// StructuredError is the one error shape everything downstream of a caught
// failure understands: audit logging, response assembly, and clients all
// consume it instead of raw faults.
type StructuredError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Reason      Code   `json:"reasonCode"`
	UserMessage string `json:"userMessage"`
	Suggestion  string `json:"suggestion,omitempty"`
	CanRetry    bool   `json:"canRetry"`
}

// Error implements the error interface with the technical view; user-facing
// text comes from Text.
func (e *StructuredError) Error() string {
	if e.Message != "" {
		return string(e.Reason) + ": " + e.Message
	}
	return string(e.Reason)
}

// New builds a StructuredError for code with user message and suggestion
// taken from the explanation table.
func New(code Code) *StructuredError {
	return NewWithContext(code, nil)
}

// NewWithContext builds a StructuredError for code, sharpening the user
// message with ctx when it names an entity or operation.
func NewWithContext(code Code, ctx *Context) *StructuredError {
	exp := ExplanationOf(code)
	return &StructuredError{
		Code:        string(code),
		Reason:      code,
		UserMessage: ContextMessage(code, ctx),
		Suggestion:  exp.Suggestion,
		CanRetry:    exp.CanRetry,
	}
}

// FromRaw classifies a raw technical code/message pair into the taxonomy
// and builds the corresponding StructuredError. The raw code and message
// are preserved for diagnostics.
func FromRaw(rawCode, rawMessage string, ctx *Context) *StructuredError {
	e := NewWithContext(Infer(rawCode+" "+rawMessage, ctx), ctx)
	if rawCode != "" {
		e.Code = rawCode
	}
	e.Message = rawMessage
	return e
}

// Text renders the full user-facing explanation: user message, suggestion,
// and a retry clause strictly when the error is retryable.
func Text(e *StructuredError) string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.UserMessage)
	if e.Suggestion != "" {
		b.WriteString(" ")
		b.WriteString(e.Suggestion)
	}
	if e.CanRetry {
		b.WriteString(" You can try the action again.")
	}
	return b.String()
}
