package claude

import (
	"strings"
	"testing"
)

func TestParseLineAssistantBlocks(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"hello "},{"type":"tool_use","name":"Bash","input":{"command":"ls"}}]}}`
	events, err := ParseLine(line)
	if err != nil {
		t.Fatalf("parse line: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != KindText || events[0].Text != "hello " {
		t.Fatalf("unexpected text event: %+v", events[0])
	}
	if events[1].Kind != KindToolUse || events[1].Tool.Name != "Bash" {
		t.Fatalf("unexpected tool event: %+v", events[1])
	}
	if events[1].Tool.Input["command"] != "ls" {
		t.Fatalf("tool input not preserved: %+v", events[1].Tool.Input)
	}
}

func TestParseLineResultWithDenials(t *testing.T) {
	line := `{"type":"result","is_error":false,"result":"done","permission_denials":[{"tool_name":"Bash","tool_input":{"command":"rm -rf /tmp/x"}}]}`
	events, err := ParseLine(line)
	if err != nil {
		t.Fatalf("parse line: %v", err)
	}
	if len(events) != 1 || events[0].Kind != KindResult {
		t.Fatalf("expected one result event, got %+v", events)
	}
	res := events[0].Result
	if res.IsError || res.Text != "done" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Denials) != 1 || res.Denials[0].ToolName != "Bash" {
		t.Fatalf("denials not parsed: %+v", res.Denials)
	}
}

func TestParseLineUnknownTypeIgnored(t *testing.T) {
	events, err := ParseLine(`{"type":"system","subtype":"init"}`)
	if err != nil {
		t.Fatalf("parse line: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
}

func TestParseLineMalformed(t *testing.T) {
	if _, err := ParseLine("not json at all"); err == nil {
		t.Fatal("expected an error for malformed input")
	}
}

func TestAccumulatedTextOrder(t *testing.T) {
	var events []Event
	for _, chunk := range []string{"a", "b", "c"} {
		evs, err := ParseLine(`{"type":"assistant","message":{"content":[{"type":"text","text":"` + chunk + `"}]}}`)
		if err != nil {
			t.Fatalf("parse chunk: %v", err)
		}
		events = append(events, evs...)
	}
	if got := AccumulatedText(events); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
}

func TestAccumulatedTextFallsBackToResult(t *testing.T) {
	events := []Event{{Kind: KindResult, Result: &ResultEvent{Text: "summary"}}}
	if got := AccumulatedText(events); got != "summary" {
		t.Fatalf("expected result fallback, got %q", got)
	}
}

func TestResultErrors(t *testing.T) {
	events := []Event{{Kind: KindResult, Result: &ResultEvent{IsError: true, Errors: []string{"one", "two"}}}}
	if got := ResultErrors(events); got != "one; two" {
		t.Fatalf("unexpected joined errors: %q", got)
	}

	events = []Event{{Kind: KindResult, Result: &ResultEvent{IsError: true}}}
	if got := ResultErrors(events); got != "unknown error" {
		t.Fatalf("expected unknown error fallback, got %q", got)
	}

	events = []Event{{Kind: KindResult, Result: &ResultEvent{IsError: false, Errors: []string{"ignored"}}}}
	if got := ResultErrors(events); got != "" {
		t.Fatalf("expected empty for non-error result, got %q", got)
	}
}

func TestExtractToolActions(t *testing.T) {
	longCmd := strings.Repeat("x", 100)
	events := []Event{
		{Kind: KindToolUse, Tool: ToolUse{Name: "Bash", Input: map[string]any{"command": longCmd}}},
		{Kind: KindToolUse, Tool: ToolUse{Name: "Bash", Input: map[string]any{"command": "ls", "description": "List files"}}},
		{Kind: KindToolUse, Tool: ToolUse{Name: "Write", Input: map[string]any{"file_path": "main.go"}}},
		{Kind: KindToolUse, Tool: ToolUse{Name: "Grep", Input: map[string]any{"pattern": "func main"}}},
		{Kind: KindToolUse, Tool: ToolUse{Name: "Task", Input: map[string]any{}}},
		{Kind: KindToolUse, Tool: ToolUse{Name: "WebSearch", Input: map[string]any{"query": "skipped"}}},
		{Kind: KindText, Text: "not a tool"},
	}
	actions := ExtractToolActions(events)
	if len(actions) != 5 {
		t.Fatalf("expected 5 actions, got %d: %+v", len(actions), actions)
	}
	if actions[0].Summary != longCmd[:80]+"..." {
		t.Fatalf("long command not truncated: %q", actions[0].Summary)
	}
	if actions[1].Summary != "List files" {
		t.Fatalf("description not preferred: %q", actions[1].Summary)
	}
	if actions[2].Summary != "main.go" || actions[3].Summary != "func main" {
		t.Fatalf("unexpected summaries: %+v", actions[2:4])
	}
	if actions[4].Summary != "subtask" {
		t.Fatalf("expected subtask placeholder, got %q", actions[4].Summary)
	}
}

func TestParseQuestionPayload(t *testing.T) {
	input := map[string]any{
		"questions": []any{
			map[string]any{
				"question":    "Which database?",
				"header":      "Storage",
				"multiSelect": true,
				"options": []any{
					map[string]any{"label": "sqlite", "description": "embedded"},
					map[string]any{"label": "postgres"},
				},
			},
		},
	}
	payload, err := ParseQuestionPayload(input)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if len(payload.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(payload.Questions))
	}
	q := payload.Questions[0]
	if q.Question != "Which database?" || q.Header != "Storage" || !q.MultiSelect {
		t.Fatalf("unexpected question: %+v", q)
	}
	if len(q.Options) != 2 || q.Options[0].Label != "sqlite" {
		t.Fatalf("unexpected options: %+v", q.Options)
	}
}
