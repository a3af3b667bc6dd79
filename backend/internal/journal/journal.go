// Package journal parses the append-only JSON-Lines event shapes the
// coding-assistant CLI writes to its per-session log file (spec §6).
//
// Record types carry only the fields this package reads; unrecognized
// fields are dropped on decode, and Record.Raw keeps the exact bytes of the
// line. A well-formed line with an unknown top-level type decodes with all
// typed fields nil rather than erroring.
package journal

import (
	"encoding/json"
	"fmt"
)

// Envelope is the minimal shape every journal line satisfies, used to
// dispatch to a concrete record type.
type Envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
}

// Usage reports token accounting for one assistant message (spec §6).
type Usage struct {
	InputTokens              int64          `json:"input_tokens"`
	OutputTokens             int64          `json:"output_tokens"`
	CacheReadInputTokens     int64          `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64          `json:"cache_creation_input_tokens"`
	CacheCreation            *CacheCreation `json:"cache_creation,omitempty"`
}

// CacheCreation breaks cache-write tokens down by TTL tier when the CLI
// reports it; absent means treat the full CacheCreationInputTokens as 5m.
type CacheCreation struct {
	Ephemeral5mInputTokens int64 `json:"ephemeral_5m_input_tokens"`
	Ephemeral1hInputTokens int64 `json:"ephemeral_1h_input_tokens"`
}

// ContentBlock is one element of a message's content array: text, an image,
// a tool_use invocation, or a tool_result.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// image / document source
	Source *BlockSource `json:"source,omitempty"`
}

// BlockSource carries inline base64 (or raw text) payloads for image and
// document content blocks.
type BlockSource struct {
	Type      string `json:"type,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// Content is a message.content value that may be either a bare string
// (plain-text user input) or an array of ContentBlock.
type Content struct {
	Text   string
	Blocks []ContentBlock
}

// UnmarshalJSON accepts both shapes the CLI emits for message.content.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content: neither string nor block array: %w", err)
	}
	c.Blocks = blocks
	return nil
}

// AssistantPayload is the message object of an assistant-type record.
type AssistantPayload struct {
	ID      string  `json:"id"`
	Model   string  `json:"model"`
	Usage   *Usage  `json:"usage,omitempty"`
	Content Content `json:"content"`
}

// UserPayload is the message object of a user-type record.
type UserPayload struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// SystemInit is a `{"type":"system","subtype":"init",...}` record.
type SystemInit struct {
	SessionID string `json:"session_id"`
}

// AssistantRecord is a `{"type":"assistant",...}` line.
type AssistantRecord struct {
	Message   AssistantPayload `json:"message"`
	Timestamp string           `json:"timestamp"`
}

// UserRecord is a `{"type":"user",...}` line.
type UserRecord struct {
	Message   UserPayload `json:"message"`
	Timestamp string      `json:"timestamp"`

	// ParentToolUseID is set when this user-role line is actually a
	// tool_result continuation rather than fresh operator input.
	ParentToolUseID *string `json:"parent_tool_use_id,omitempty"`
}

// CustomTitleRecord is a `{"type":"custom-title","customTitle":"..."}`
// line, written either by the CLI or by the Process-Journal Bridge.
type CustomTitleRecord struct {
	CustomTitle string `json:"customTitle"`
}

// Record is the tagged-union result of parsing one journal line.
type Record struct {
	Type    string
	Subtype string

	Assistant  *AssistantRecord
	User       *UserRecord
	SystemInit *SystemInit
	CustomTitle *CustomTitleRecord

	// Raw is always populated with the exact bytes of the line, so
	// SessionItem.RawContent can store it verbatim regardless of how
	// far decoding got.
	Raw json.RawMessage
}

// Parse decodes one journal line into a Record. Malformed JSON is reported
// as an error; the caller (Ingester) maps that to display_level=debug-only
// per spec §4.D rather than aborting ingestion. An unrecognized but
// well-formed "type" decodes successfully with all typed fields nil.
func Parse(line []byte) (Record, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Record{}, fmt.Errorf("journal: malformed line: %w", err)
	}
	rec := Record{Type: env.Type, Subtype: env.Subtype, Raw: json.RawMessage(append([]byte(nil), line...))}

	switch env.Type {
	case "assistant":
		var a AssistantRecord
		if err := json.Unmarshal(line, &a); err != nil {
			return rec, fmt.Errorf("journal: assistant: %w", err)
		}
		rec.Assistant = &a
	case "user":
		var u UserRecord
		if err := json.Unmarshal(line, &u); err != nil {
			return rec, fmt.Errorf("journal: user: %w", err)
		}
		rec.User = &u
	case "system":
		if env.Subtype == "init" {
			var s SystemInit
			if err := json.Unmarshal(line, &s); err != nil {
				return rec, fmt.Errorf("journal: system init: %w", err)
			}
			rec.SystemInit = &s
		}
	case "custom-title":
		var c CustomTitleRecord
		if err := json.Unmarshal(line, &c); err != nil {
			return rec, fmt.Errorf("journal: custom-title: %w", err)
		}
		rec.CustomTitle = &c
	}
	return rec, nil
}
