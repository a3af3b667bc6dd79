package agent

import (
	"encoding/json"
	"fmt"
)

// ImageData is a base64-encoded image attachment (spec §4.A send()).
type ImageData struct {
	MediaType string
	Base64    string
}

// DocumentData is a base64 or raw-text document attachment (spec §4.A
// send()).
type DocumentData struct {
	MediaType string
	Base64    string
	Text      string
}

type promptBlock struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Source *promptSource `json:"source,omitempty"`
}

type promptSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

type promptMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type promptEnvelope struct {
	Type    string        `json:"type"`
	Message promptMessage `json:"message"`
}

// writePrompt builds a user-input message for the subprocess stream.
// Text-only prompts encode content as a plain string; prompts with
// attachments encode content as a block array, the image block first
// (matching backend/internal/agent/claude/claude_test.go's WritePrompt
// test cases TextOnly/WithImages/ImagesOnly).
func (a *Agent) writePrompt(text string, images []ImageData, documents []DocumentData) error {
	var content any
	if len(images) == 0 && len(documents) == 0 {
		content = text
	} else {
		var blocks []promptBlock
		for _, img := range images {
			blocks = append(blocks, promptBlock{
				Type:   "image",
				Source: &promptSource{Type: "base64", MediaType: img.MediaType, Data: img.Base64},
			})
		}
		for _, doc := range documents {
			if doc.Text != "" {
				blocks = append(blocks, promptBlock{
					Type:   "document",
					Source: &promptSource{Type: "text", MediaType: "text/plain", Data: doc.Text},
				})
			} else {
				blocks = append(blocks, promptBlock{
					Type:   "document",
					Source: &promptSource{Type: "base64", MediaType: doc.MediaType, Data: doc.Base64},
				})
			}
		}
		if text != "" {
			blocks = append(blocks, promptBlock{Type: "text", Text: text})
		}
		content = blocks
	}

	env := promptEnvelope{Type: "user", Message: promptMessage{Role: "user", Content: content}}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("agent: marshal prompt: %w", err)
	}
	data = append(data, '\n')

	a.mu.Lock()
	stdin := a.stdin
	a.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("agent: no stdin pipe")
	}
	_, err = stdin.Write(data)
	return err
}
