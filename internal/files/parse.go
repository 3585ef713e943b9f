package files

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Parser extracts text from file bytes.
type Parser interface {
	Parse(filename string, data []byte) (string, error)
}

// TextParser handles plain text in UTF-8 or BOM-marked UTF-16, and HTML.
// Anything else is reported as ErrParse.
type TextParser struct{}

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)

	replacementChar = []byte("\uFFFD")
)

// Parse implements Parser.
func (TextParser) Parse(filename string, data []byte) (string, error) {
	if IsImageFilename(filename) {
		return "", fmt.Errorf("%w: %s is an image", ErrParse, filename)
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", fmt.Errorf("%w: unsupported document format in %s", ErrParse, filename)
	}

	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	// The decoder substitutes U+FFFD for invalid sequences.
	if bytes.Contains(decoded, replacementChar) && !bytes.Contains(data, replacementChar) {
		return "", fmt.Errorf("%w: %s is not valid text", ErrParse, filename)
	}
	text := RemoveNullCharacters(string(decoded))

	switch extension(filename) {
	case "html", "htm", "xhtml":
		return htmlToMarkdown(text)
	}
	return text, nil
}

// htmlToMarkdown converts HTML to a simplified markdown rendition.
func htmlToMarkdown(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}

	var sb strings.Builder
	extractText(doc, &sb, 0)
	return cleanMarkdown(sb.String()), nil
}

func extractText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 100 {
		return
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "template":
			return
		case "title":
			sb.WriteString("# ")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				extractText(c, sb, depth+1)
			}
			sb.WriteString("\n\n")
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
		case "p", "div", "table", "section", "article":
			sb.WriteString("\n\n")
		case "br", "tr":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "pre":
			sb.WriteString("\n\n```\n")
		case "img":
			if alt := getAttr(n, "alt"); alt != "" {
				sb.WriteString("[Image: " + alt + "]")
			}
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n")
		case "pre":
			sb.WriteString("\n```\n\n")
		}
	}
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func cleanMarkdown(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")

	return strings.TrimSpace(s)
}
