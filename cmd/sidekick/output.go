package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/kalambet/sidekick/internal/commentary"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

var expressionFace = map[commentary.Expression]string{
	commentary.Happy:     "(^_^)",
	commentary.Neutral:   "(-_-)",
	commentary.Concerned: "(o_O)",
}

// commentaryMarkdown formats a reply as a short markdown block.
func commentaryMarkdown(companionName string, reply commentary.Reply) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s** %s\n\n", companionName, expressionFace[reply.Expression])
	for _, line := range strings.Split(reply.Commentary, "\n") {
		fmt.Fprintf(&sb, "> %s\n", line)
	}
	if reply.Sentiment != nil {
		fmt.Fprintf(&sb, "\n_sentiment %+.2f_\n", *reply.Sentiment)
	}
	return sb.String()
}

// renderCommentary returns the reply for the terminal: rendered with
// glamour, or as plain text when color is off.
func renderCommentary(companionName string, reply commentary.Reply) string {
	if noColor {
		return fmt.Sprintf("%s %s: %s\n", companionName, expressionFace[reply.Expression], reply.Commentary)
	}
	out, err := glamour.Render(commentaryMarkdown(companionName, reply), "dark")
	if err != nil {
		return commentaryMarkdown(companionName, reply)
	}
	return out
}
