package telegram

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Markdown-to-HTML conversion for Telegram's HTML parse mode. Code spans,
// links and tables are pulled out into placeholders first so the inline
// formatting passes cannot mangle them.

var (
	escapedCharRe = regexp.MustCompile(`\\([*_~` + "`" + `\[\]\\])`)
	fencedCodeRe  = regexp.MustCompile("(?s)```(\\w*)\n(.*?)```")
	tableRe       = regexp.MustCompile(`(?m)(?:^\|.+\|[ \t]*\n){2,}(?:^\|.+\|[ \t]*\n?)*`)
	tableSepRe    = regexp.MustCompile(`^[\s|:\-]+$`)
	inlineCodeRe  = regexp.MustCompile("`([^`\n]+)`")
	bulletRe      = regexp.MustCompile(`(?m)^([ \t]*)[-*]\s+`)
	linkRe        = regexp.MustCompile(`\[([^\]]+)\]\(((?:[^()]+|\([^()]*\))+)\)`)
	brRe          = regexp.MustCompile(`(?i)<br\s*/?>`)
	boldItalicRe  = regexp.MustCompile(`\*\*\*(.+?)\*\*\*`)
	boldRe        = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicStarRe  = regexp.MustCompile(`(^|[^\w*])\*([^*\n]+)\*`)
	italicUnderRe = regexp.MustCompile(`(^|[^\w])_([^_\n]+)_`)
	strikeRe      = regexp.MustCompile(`~~(.+?)~~`)
	headingRe     = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	hrRe          = regexp.MustCompile(`(?m)^[-*_]{3,}[ \t]*$`)
	numberedRe    = regexp.MustCompile(`(?m)^(\d+)\.\s+`)
)

// MarkdownToHTML converts the CLI's markdown output into the subset of
// HTML Telegram accepts: pre/code, b, i, s, a. Headings become bold
// lines, bullets become • and tables become fixed-width pre blocks.
func MarkdownToHTML(text string) string {
	var placeholders []string
	stash := func(replacement string) string {
		placeholders = append(placeholders, replacement)
		return fmt.Sprintf("\x00PH%d\x00", len(placeholders)-1)
	}

	// Escaped literals first so \* survives the formatting passes.
	text = escapedCharRe.ReplaceAllStringFunc(text, func(m string) string {
		return stash(html.EscapeString(m[1:]))
	})

	text = fencedCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := fencedCodeRe.FindStringSubmatch(m)
		lang, code := sub[1], html.EscapeString(sub[2])
		if lang != "" {
			return stash(fmt.Sprintf(`<pre><code class="language-%s">%s</code></pre>`, html.EscapeString(lang), code))
		}
		return stash("<pre><code>" + code + "</code></pre>")
	})

	text = tableRe.ReplaceAllStringFunc(text, func(m string) string {
		rendered := renderTable(m)
		if rendered == "" {
			return m
		}
		return stash("<pre>" + rendered + "</pre>")
	})

	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := inlineCodeRe.FindStringSubmatch(m)
		return stash("<code>" + html.EscapeString(sub[1]) + "</code>")
	})

	text = bulletRe.ReplaceAllString(text, "${1}• ")

	text = linkRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := linkRe.FindStringSubmatch(m)
		return stash(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(sub[2]), html.EscapeString(sub[1])))
	})

	text = brRe.ReplaceAllString(text, "\n")
	text = html.EscapeString(text)

	text = boldItalicRe.ReplaceAllString(text, "<b><i>${1}</i></b>")
	text = boldRe.ReplaceAllString(text, "<b>${1}</b>")
	text = italicStarRe.ReplaceAllString(text, "${1}<i>${2}</i>")
	text = italicUnderRe.ReplaceAllString(text, "${1}<i>${2}</i>")
	text = strikeRe.ReplaceAllString(text, "<s>${1}</s>")
	text = headingRe.ReplaceAllString(text, "<b>${1}</b>")
	text = hrRe.ReplaceAllString(text, "")
	text = numberedRe.ReplaceAllString(text, "<b>${1}.</b> ")

	for i, replacement := range placeholders {
		text = strings.Replace(text, fmt.Sprintf("\x00PH%d\x00", i), replacement, 1)
	}
	return strings.TrimSpace(text)
}

// renderTable lays out a markdown table as fixed-width text, with a rule
// under the header row. Returns "" when the block has no data rows.
func renderTable(block string) string {
	var rows [][]string
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") || !strings.HasSuffix(line, "|") {
			continue
		}
		inner := line[1 : len(line)-1]
		if tableSepRe.MatchString(inner) {
			continue
		}
		var cells []string
		for _, cell := range strings.Split(inner, "|") {
			cells = append(cells, strings.TrimSpace(cell))
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return ""
	}

	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	widths := make([]int, cols)
	for _, row := range rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var lines []string
	for rowIdx, row := range rows {
		parts := make([]string, cols)
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			parts[i] = cell + strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell))
		}
		lines = append(lines, strings.Join(parts, "  "))
		if rowIdx == 0 {
			seps := make([]string, cols)
			for i, w := range widths {
				seps[i] = strings.Repeat("─", w)
			}
			lines = append(lines, strings.Join(seps, "  "))
		}
	}
	return html.EscapeString(strings.Join(lines, "\n"))
}
