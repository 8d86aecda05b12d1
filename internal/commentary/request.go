// Package commentary turns a code snippet and a companion personality into
// a short structured reply from the model.
package commentary

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kalambet/sidekick/internal/llm"
)

const (
	defaultMaxTokens = 150
	minTemperature   = 0.0
	maxTemperature   = 2.0
)

const replyInstruction = `Respond with ONLY a single JSON object and no other text:
{"commentary": "<one or two sentences, at most 200 characters>", "expression": "happy" | "neutral" | "concerned", "sentiment": <number between -1 and 1>}
Use "concerned" for bugs or risky code, "happy" for clean or clever code, "neutral" otherwise.`

// Request is everything needed to ask for one piece of commentary.
type Request struct {
	Code        string
	LanguageID  string
	FileName    string
	Line        int
	Personality string
	Timestamp   time.Time
}

// Options carries the model settings read from configuration.
type Options struct {
	Endpoint    string
	Model       string
	MaxTokens   int
	Temperature float64
}

// SystemPrompt is the system message sent for a personality.
func SystemPrompt(personality string) string {
	return strings.TrimSpace(personality) + "\n\n" + replyInstruction
}

// BuildChatRequest constructs the chat request: one system message followed
// by one user message holding the code.
func BuildChatRequest(req Request, opts Options) llm.ChatRequest {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return llm.ChatRequest{
		Model: opts.Model,
		Messages: []llm.Message{
			{Role: "system", Content: SystemPrompt(req.Personality)},
			{Role: "user", Content: userMessage(req)},
		},
		MaxTokens:   maxTokens,
		Temperature: clampTemperature(opts.Temperature),
		Endpoint:    opts.Endpoint,
	}
}

func userMessage(req Request) string {
	var sb strings.Builder
	sb.WriteString("Comment on this code")
	if req.FileName != "" {
		fmt.Fprintf(&sb, " from %s", req.FileName)
	}
	if req.Line > 0 {
		fmt.Fprintf(&sb, " around line %d", req.Line)
	}
	sb.WriteString(". Stay in character and keep it short.\n\n")

	fence := "```"
	for strings.Contains(req.Code, fence) {
		fence += "`"
	}
	fmt.Fprintf(&sb, "%s%s\n%s\n%s", fence, req.LanguageID, req.Code, fence)
	return sb.String()
}

func clampTemperature(t float64) float64 {
	switch {
	case math.IsNaN(t):
		return minTemperature
	case t < minTemperature:
		return minTemperature
	case t > maxTemperature:
		return maxTemperature
	default:
		return t
	}
}

// ExtractContext returns the lines of text within contextLines of line
// (1-based). contextLines <= 0 returns the whole text.
func ExtractContext(text string, line, contextLines int) string {
	if contextLines <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	idx := line - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(lines) {
		idx = len(lines) - 1
	}
	start := max(idx-contextLines, 0)
	end := min(idx+contextLines+1, len(lines))
	return strings.Join(lines[start:end], "\n")
}
