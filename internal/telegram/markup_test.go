package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdownToHTMLInline(t *testing.T) {
	assert.Equal(t, "<b>bold</b>", MarkdownToHTML("**bold**"))
	assert.Equal(t, "<i>italic</i>", MarkdownToHTML("*italic*"))
	assert.Equal(t, "<i>italic</i>", MarkdownToHTML("_italic_"))
	assert.Equal(t, "<b><i>both</i></b>", MarkdownToHTML("***both***"))
	assert.Equal(t, "<s>gone</s>", MarkdownToHTML("~~gone~~"))
	assert.Equal(t, "say <code>hi</code>", MarkdownToHTML("say `hi`"))
}

func TestMarkdownToHTMLFencedCode(t *testing.T) {
	got := MarkdownToHTML("```go\nfmt.Println(\"x < y\")\n```")
	assert.Equal(t, "<pre><code class=\"language-go\">fmt.Println(&#34;x &lt; y&#34;)\n</code></pre>", got)

	got = MarkdownToHTML("```\nplain\n```")
	assert.Equal(t, "<pre><code>plain\n</code></pre>", got)
}

func TestMarkdownToHTMLCodeNotFormatted(t *testing.T) {
	// Formatting markers inside code spans must stay literal.
	got := MarkdownToHTML("`**not bold**`")
	assert.Equal(t, "<code>**not bold**</code>", got)
}

func TestMarkdownToHTMLLink(t *testing.T) {
	got := MarkdownToHTML("see [docs](https://example.com/a?x=1&y=2)")
	assert.Equal(t, `see <a href="https://example.com/a?x=1&amp;y=2">docs</a>`, got)
}

func TestMarkdownToHTMLHeadingsAndLists(t *testing.T) {
	got := MarkdownToHTML("# Title\n- first\n* second\n1. third")
	assert.Equal(t, "<b>Title</b>\n• first\n• second\n<b>1.</b> third", got)
}

func TestMarkdownToHTMLEscapesRawHTML(t *testing.T) {
	got := MarkdownToHTML("a < b & c > d")
	assert.Equal(t, "a &lt; b &amp; c &gt; d", got)
}

func TestMarkdownToHTMLEscapedLiterals(t *testing.T) {
	assert.Equal(t, "*literal*", MarkdownToHTML(`\*literal\*`))
}

func TestMarkdownToHTMLTable(t *testing.T) {
	got := MarkdownToHTML("| Name | Age |\n| --- | --- |\n| Ann | 3 |\n")
	assert.Contains(t, got, "<pre>")
	assert.Contains(t, got, "Name  Age")
	assert.Contains(t, got, "Ann   3")
	assert.Contains(t, got, "────")
}

func TestMarkdownToHTMLBreakTags(t *testing.T) {
	assert.Equal(t, "a\nb", MarkdownToHTML("a<br/>b"))
}
