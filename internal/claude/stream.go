// Package claude runs the Claude Code CLI as a subprocess and orchestrates
// permission and question negotiation with the user.
//
// The CLI is treated as a black box that emits one JSON event per line on
// stdout (stream-json mode). This package parses that stream, mediates tool
// approvals through injected callbacks, and retries the CLI with a widened
// allowlist until the run completes or the retry budget is exhausted.
package claude

import (
	"encoding/json"
	"fmt"
)

// EventKind discriminates parsed stream events.
type EventKind int

const (
	// KindText is an incremental chunk of assistant text.
	KindText EventKind = iota
	// KindToolUse is a tool invocation by the assistant.
	KindToolUse
	// KindResult is the terminal summary event of a run.
	KindResult
)

// Event is one typed event parsed from the CLI's stream-json output.
// Exactly one of Text, Tool, or Result is meaningful, selected by Kind.
type Event struct {
	Kind   EventKind
	Text   string
	Tool   ToolUse
	Result *ResultEvent
}

// ToolUse records a tool invocation from an assistant message.
type ToolUse struct {
	Name  string
	Input map[string]any
}

// ResultEvent is the terminal event of a run.
type ResultEvent struct {
	IsError bool
	Text    string
	Errors  []string
	Denials []Denial
}

// Denial is a tool the CLI attempted to use without authorization.
type Denial struct {
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
}

// ToolAction is a display-friendly summary of one tool invocation.
type ToolAction struct {
	ToolName string
	Summary  string
}

// Wire shapes for the stream-json protocol. Unknown fields are ignored.
type wireEvent struct {
	Type             string      `json:"type"`
	Message          wireMessage `json:"message"`
	IsError          bool        `json:"is_error"`
	Result           string      `json:"result"`
	Errors           []string    `json:"errors"`
	PermissionDenial []Denial    `json:"permission_denials"`
}

type wireMessage struct {
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ParseLine parses one line of stream-json output into typed events.
// A single assistant line can carry several content blocks, so the result
// is a slice. Lines of unknown type parse to an empty slice; lines that are
// not valid JSON return an error so the caller can log and skip them.
func ParseLine(line string) ([]Event, error) {
	var we wireEvent
	if err := json.Unmarshal([]byte(line), &we); err != nil {
		return nil, fmt.Errorf("parsing stream event: %w", err)
	}

	switch we.Type {
	case "assistant":
		var events []Event
		for _, block := range we.Message.Content {
			switch block.Type {
			case "text":
				events = append(events, Event{Kind: KindText, Text: block.Text})
			case "tool_use":
				events = append(events, Event{Kind: KindToolUse, Tool: ToolUse{
					Name:  block.Name,
					Input: block.Input,
				}})
			}
		}
		return events, nil

	case "result":
		return []Event{{Kind: KindResult, Result: &ResultEvent{
			IsError: we.IsError,
			Text:    we.Result,
			Errors:  we.Errors,
			Denials: we.PermissionDenial,
		}}}, nil

	default:
		// System, init and other event types carry nothing we act on.
		return nil, nil
	}
}

// AccumulatedText concatenates every text delta in arrival order. If no
// assistant text was produced, the terminal result text is used instead.
func AccumulatedText(events []Event) string {
	var text string
	var resultText string
	for _, ev := range events {
		switch ev.Kind {
		case KindText:
			text += ev.Text
		case KindResult:
			resultText = ev.Result.Text
		}
	}
	if text == "" {
		return resultText
	}
	return text
}

// ResultText returns the text of the terminal result event, if any.
func ResultText(events []Event) string {
	for _, ev := range events {
		if ev.Kind == KindResult {
			return ev.Result.Text
		}
	}
	return ""
}

// PermissionDenials returns the denials reported by the terminal result
// event, or nil if the run ended without one.
func PermissionDenials(events []Event) []Denial {
	for _, ev := range events {
		if ev.Kind == KindResult {
			return ev.Result.Denials
		}
	}
	return nil
}

// ResultErrors joins the structured error strings of the terminal result
// event, used as a fallback diagnostic when stderr is empty.
func ResultErrors(events []Event) string {
	for _, ev := range events {
		if ev.Kind == KindResult && ev.Result.IsError {
			if len(ev.Result.Errors) == 0 {
				return "unknown error"
			}
			msg := ev.Result.Errors[0]
			for _, e := range ev.Result.Errors[1:] {
				msg += "; " + e
			}
			return msg
		}
	}
	return ""
}

// ExtractToolActions derives one-line summaries of the interesting tool
// invocations in a run, for the activity log shown to the user.
func ExtractToolActions(events []Event) []ToolAction {
	var actions []ToolAction
	for _, ev := range events {
		if ev.Kind != KindToolUse {
			continue
		}
		name := ev.Tool.Name
		input := ev.Tool.Input

		var summary string
		switch name {
		case "Bash":
			cmd := stringField(input, "command")
			desc := stringField(input, "description")
			if desc != "" {
				summary = desc
			} else if len(cmd) > 80 {
				summary = cmd[:80] + "..."
			} else {
				summary = cmd
			}
		case "Read", "Glob", "Grep":
			summary = stringField(input, "file_path")
			if summary == "" {
				summary = stringField(input, "path")
			}
			if summary == "" {
				summary = stringField(input, "pattern")
			}
		case "Write", "Edit":
			summary = stringField(input, "file_path")
		case "Task":
			summary = stringField(input, "description")
			if summary == "" {
				summary = "subtask"
			}
		default:
			continue
		}

		if summary != "" {
			actions = append(actions, ToolAction{ToolName: name, Summary: summary})
		}
	}
	return actions
}

func stringField(input map[string]any, key string) string {
	if s, ok := input[key].(string); ok {
		return s
	}
	return ""
}

// QuestionPayload is the typed input of the AskUserQuestion tool.
type QuestionPayload struct {
	Questions []Question `json:"questions"`
}

// Question is one question the agent wants answered.
type Question struct {
	Question    string           `json:"question"`
	Header      string           `json:"header,omitempty"`
	Options     []QuestionOption `json:"options"`
	MultiSelect bool             `json:"multiSelect"`
}

// QuestionOption is one selectable answer.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// ParseQuestionPayload converts a raw tool input into the typed question
// payload used by the question callback.
func ParseQuestionPayload(input map[string]any) (QuestionPayload, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return QuestionPayload{}, fmt.Errorf("encoding question input: %w", err)
	}
	var payload QuestionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return QuestionPayload{}, fmt.Errorf("decoding question input: %w", err)
	}
	return payload, nil
}
