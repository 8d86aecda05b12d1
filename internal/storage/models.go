package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Comment is one piece of commentary that was shown to the user.
type Comment struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Companion  string    `json:"companion"`
	FileName   string    `json:"file_name"`
	LanguageID string    `json:"language_id"`
	Line       int       `json:"line"`
	Commentary string    `json:"commentary"`
	Expression string    `json:"expression"`
	Sentiment  *float64  `json:"sentiment,omitempty"`
	Model      string    `json:"model"`
}
