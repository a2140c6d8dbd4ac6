// Package format provides CLI output formatting with TTY detection. It is a
// thin shell: no markdown rendering or syntax highlighting engine, just
// lipgloss styling for headings/code fences and JSON pretty-printing.
package format

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	maxJSONSize     = 10 * 1024 * 1024
	maxMarkdownSize = 5 * 1024 * 1024
	maxCodeSize     = 2 * 1024 * 1024
	maxNumberSize   = 1024
	maxStringSize   = 100 * 1024 * 1024
)

var (
	ansiEscapeRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
	headingRegex    = regexp.MustCompile(`(?m)^(#{1,6})\s+(.*)$`)
	fenceRegex      = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\n(.*?)\n```")

	headingStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	codeStyle    = lipgloss.NewStyle().Faint(true)
)

func sanitizeANSI(s string) string {
	return ansiEscapeRegex.ReplaceAllString(s, "")
}

func enforceSize(content string, format string, maxSize int) error {
	if len(content) > maxSize {
		return fmt.Errorf("output size (%d bytes) exceeds maximum for %s format (%d bytes)", len(content), format, maxSize)
	}
	return nil
}

// FormatMarkdown lightly styles headings and fenced code blocks when stdout
// is a TTY; returns the content unchanged otherwise.
func FormatMarkdown(content string, isTTY bool) (string, error) {
	if err := enforceSize(content, "markdown", maxMarkdownSize); err != nil {
		return "", err
	}
	if !isTTY {
		return content, nil
	}

	rendered := headingRegex.ReplaceAllStringFunc(sanitizeANSI(content), func(m string) string {
		groups := headingRegex.FindStringSubmatch(m)
		return headingStyle.Render(groups[2])
	})
	rendered = fenceRegex.ReplaceAllStringFunc(rendered, func(m string) string {
		groups := fenceRegex.FindStringSubmatch(m)
		return codeStyle.Render(groups[1])
	})

	return rendered, nil
}

// FormatJSON pretty-prints JSON with 2-space indentation.
func FormatJSON(content string, isTTY bool) (string, error) {
	if err := enforceSize(content, "json", maxJSONSize); err != nil {
		return "", err
	}

	var obj interface{}
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}

	formatted, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format JSON: %w", err)
	}
	return string(formatted), nil
}

// FormatCode applies light faint styling when stdout is a TTY and returns the
// content unchanged otherwise. No language-aware syntax highlighting is
// done; the language suffix of a "code:<language>" format is ignored.
func FormatCode(content string, format string, isTTY bool) (string, error) {
	if err := enforceSize(content, "code", maxCodeSize); err != nil {
		return "", err
	}
	if !isTTY {
		return content, nil
	}
	return codeStyle.Render(sanitizeANSI(content)), nil
}

// FormatNumber returns the number as-is.
func FormatNumber(content string, isTTY bool) (string, error) {
	if err := enforceSize(content, "number", maxNumberSize); err != nil {
		return "", err
	}
	return content, nil
}

// FormatString returns the string as-is.
func FormatString(content string, isTTY bool) (string, error) {
	if err := enforceSize(content, "string", maxStringSize); err != nil {
		return "", err
	}
	return content, nil
}

// Format dispatches content to the formatter named by format ("string",
// "number", "markdown", "json", "code" or "code:<language>").
func Format(content string, format string, isTTY bool) (string, error) {
	if format == "" {
		format = "string"
	}

	formatLower := strings.ToLower(format)

	if strings.HasPrefix(formatLower, "code:") {
		return FormatCode(content, format, isTTY)
	}

	switch formatLower {
	case "string":
		return FormatString(content, isTTY)
	case "number":
		return FormatNumber(content, isTTY)
	case "markdown":
		return FormatMarkdown(content, isTTY)
	case "json":
		return FormatJSON(content, isTTY)
	case "code":
		return FormatCode(content, format, isTTY)
	default:
		return "", fmt.Errorf("unknown format: %s", format)
	}
}
