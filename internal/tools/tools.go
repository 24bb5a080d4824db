// Package tools implements the memory tools exposed to the model:
// save_to_memory, search_memory and remember_context. The set is closed:
// dispatch switches on a tagged kind instead of looking names up in a
// mutable registry, so there is no way to register arbitrary callables.
package tools

import (
	"encoding/json"
	"fmt"
)

// Kind tags one of the fixed memory tools.
type Kind int

const (
	KindSave Kind = iota
	KindSearch
	KindRememberContext
)

// Tool names as the model sees them.
const (
	NameSave            = "save_to_memory"
	NameSearch          = "search_memory"
	NameRememberContext = "remember_context"
)

// KindFromName resolves a tool name reported by the model to its kind.
func KindFromName(name string) (Kind, bool) {
	switch name {
	case NameSave:
		return KindSave, true
	case NameSearch:
		return KindSearch, true
	case NameRememberContext:
		return KindRememberContext, true
	}
	return 0, false
}

// Name returns the wire name of the kind.
func (k Kind) Name() string {
	switch k {
	case KindSave:
		return NameSave
	case KindSearch:
		return NameSearch
	case KindRememberContext:
		return NameRememberContext
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ToolResult is the outcome of executing a tool.
type ToolResult struct {
	Output  string
	IsError bool
}

// ErrorResult creates an error ToolResult with the given message. The message
// goes back into the model loop as an observation, not up the call stack.
func ErrorResult(msg string) *ToolResult {
	return &ToolResult{Output: msg, IsError: true}
}

// Schema is a minimal JSON schema builder for tool parameters.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single parameter.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// MustMarshal serializes the schema, panicking on failure. Schemas are
// compile-time constants; a marshal failure is a programming error.
func (s Schema) MustMarshal() json.RawMessage {
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tools: marshal schema: %v", err))
	}
	return data
}

// Typed argument structs, one per kind.

type saveArgs struct {
	Content  string `json:"content"`
	Category string `json:"category"`
}

type searchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type rememberArgs struct {
	Context string `json:"context"`
}
