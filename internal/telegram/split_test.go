package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessageShortUnchanged(t *testing.T) {
	chunks := SplitMessage("hello", false)
	assert.Equal(t, []string{"hello"}, chunks)
}

func TestSplitMessageRespectsLimit(t *testing.T) {
	para := strings.Repeat("word ", 200) // ~1000 chars
	text := strings.Join([]string{para, para, para, para, para, para}, "\n\n")

	chunks := SplitMessage(text, false)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), maxMessageLength)
	}
	assert.True(t, strings.HasPrefix(chunks[0], "[1/"))
}

func TestSplitMessageKeepsCodeFencesBalanced(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("```python\n")
	for i := 0; i < 500; i++ {
		sb.WriteString("print('a fairly long line of code here')\n")
	}
	sb.WriteString("```")

	chunks := SplitMessage(sb.String(), false)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		opens := strings.Count(chunk, "```")
		assert.Equal(t, 0, opens%2, "unbalanced fences in chunk: %d", opens)
	}
	// Continuation chunks reopen with the original language tag.
	assert.Contains(t, chunks[1], "```python\n")
}

func TestSplitMessageKeepsHTMLCodeBalanced(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<pre><code class=\"language-go\">\n")
	for i := 0; i < 500; i++ {
		sb.WriteString("fmt.Println(\"a fairly long line of code\")\n")
	}
	sb.WriteString("</code></pre>")

	chunks := SplitMessage(sb.String(), true)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.Equal(t, strings.Count(chunk, "<pre"), strings.Count(chunk, "</pre>"), "unbalanced pre in chunk")
	}
	assert.Contains(t, chunks[1], "<pre><code class=\"language-go\">")
}

func TestSplitMessageHardSplitsOversizedLine(t *testing.T) {
	line := strings.Repeat("x", 10000)
	chunks := SplitMessage(line, false)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), maxMessageLength)
	}
	var total int
	for _, chunk := range chunks {
		body := chunk
		if idx := strings.Index(chunk, "\n\n"); idx >= 0 && strings.HasPrefix(chunk, "[") {
			body = chunk[idx+2:]
		}
		total += len(body)
	}
	assert.Equal(t, len(line), total, "no content lost in hard split")
}
