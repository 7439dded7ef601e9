package telegram

import (
	"fmt"
	"regexp"
	"strings"
)

// maxMessageLength is Telegram's hard limit on message text.
const maxMessageLength = 4096

// partHeaderOverhead reserves room for "[xx/xx]\n\n" part markers.
const partHeaderOverhead = 12

var (
	htmlCodeOpenRe  = regexp.MustCompile(`<pre(?:>|<code)`)
	htmlCodeTagRe   = regexp.MustCompile(`(<pre><code[^>]*>|<pre>)`)
	htmlCodeCloseRe = regexp.MustCompile(`</pre>`)
	mdCodeOpenRe    = regexp.MustCompile("^```(\\w*)[ \t]*$")
	mdCodeCloseRe   = regexp.MustCompile("^```[ \t]*$")
)

// SplitMessage splits text into chunks under Telegram's length limit,
// preferring paragraph boundaries and keeping code blocks well-formed by
// closing them at a chunk boundary and reopening in the next chunk. When
// isHTML is set, <pre><code> blocks are tracked instead of ``` fences.
func SplitMessage(text string, isHTML bool) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}
	effectiveMax := maxMessageLength - partHeaderOverhead

	var chunks []string
	var current string
	inCode := false
	codeTag := ""

	closeCode := func(chunk string) string {
		if isHTML {
			return chunk + "\n</code></pre>"
		}
		return chunk + "\n```"
	}
	// Room for the closing tag appended when a chunk ends inside a block.
	codeCloseReserve := len("\n```")
	if isHTML {
		codeCloseReserve = len("\n</code></pre>")
	}

	for _, line := range strings.Split(text, "\n") {
		var opensCode, closesCode bool
		if isHTML {
			opensCode = htmlCodeOpenRe.MatchString(line)
			closesCode = htmlCodeCloseRe.MatchString(line)
		} else {
			opensCode = mdCodeOpenRe.MatchString(line)
			closesCode = mdCodeCloseRe.MatchString(line) && inCode
		}

		sep := ""
		if current != "" {
			sep = "\n"
		}
		limit := effectiveMax
		if inCode {
			limit -= codeCloseReserve
		}
		if len(current)+len(sep)+len(line) <= limit {
			current += sep + line
		} else if current != "" {
			if inCode {
				chunks = append(chunks, closeCode(current))
				current = codeTag + "\n" + line
			} else {
				chunks = append(chunks, current)
				current = line
			}
		} else {
			// Single oversized line: hard split.
			for len(line) > effectiveMax {
				chunks = append(chunks, line[:effectiveMax])
				line = line[effectiveMax:]
			}
			current = line
		}

		if opensCode && !closesCode {
			inCode = true
			if isHTML {
				codeTag = "<pre><code>"
				if m := htmlCodeTagRe.FindString(line); m != "" {
					codeTag = m
				}
			} else {
				codeTag = "```"
				if m := mdCodeOpenRe.FindStringSubmatch(line); m != nil {
					codeTag += m[1]
				}
			}
		} else if closesCode {
			inCode = false
		}
	}

	if current != "" {
		if inCode {
			current = closeCode(current)
		}
		chunks = append(chunks, current)
	}

	if len(chunks) > 1 {
		total := len(chunks)
		for i, chunk := range chunks {
			chunks[i] = fmt.Sprintf("[%d/%d]\n\n%s", i+1, total, chunk)
		}
	}
	return chunks
}
