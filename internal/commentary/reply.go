package commentary

import (
	"encoding/json"
	"strings"
)

// MaxCommentaryLen is the longest commentary kept, in runes.
const MaxCommentaryLen = 200

const blankReplyText = "Hmm..."

// Expression is the companion's mood for a reply.
type Expression string

const (
	Happy     Expression = "happy"
	Neutral   Expression = "neutral"
	Concerned Expression = "concerned"
)

// Valid reports whether e is one of the known expressions.
func (e Expression) Valid() bool {
	switch e {
	case Happy, Neutral, Concerned:
		return true
	}
	return false
}

// Reply is a validated model reply.
type Reply struct {
	Commentary string     `json:"commentary"`
	Expression Expression `json:"expression"`
	Sentiment  *float64   `json:"sentiment,omitempty"`
}

// ParseReply decodes the model's message content. It never fails: output
// that is not a valid reply object degrades to the first 200 runes of raw
// with a neutral expression.
func ParseReply(raw string) Reply {
	if r, ok := decodeReply(stripFences(raw)); ok {
		return r
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		text = blankReplyText
	}
	return Reply{Commentary: truncate(text, MaxCommentaryLen), Expression: Neutral}
}

func decodeReply(s string) (Reply, bool) {
	var r Reply
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Reply{}, false
	}
	r.Commentary = strings.TrimSpace(r.Commentary)
	r.Expression = Expression(strings.ToLower(strings.TrimSpace(string(r.Expression))))
	if r.Commentary == "" || !r.Expression.Valid() {
		return Reply{}, false
	}
	if r.Sentiment != nil && (*r.Sentiment < -1 || *r.Sentiment > 1) {
		return Reply{}, false
	}
	r.Commentary = truncate(r.Commentary, MaxCommentaryLen)
	return r, true
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return s
	}
	body := strings.TrimSpace(s[nl+1:])
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
