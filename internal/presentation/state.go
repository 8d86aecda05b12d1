// Package presentation owns what the renderer shows and pushes it to
// connected renderers over WebSocket.
package presentation

import "sync"

// NoticeLevel classifies a user-facing notification.
type NoticeLevel string

const (
	// NoticeConfigure asks the user to set up the API credential.
	NoticeConfigure NoticeLevel = "configure"
	NoticeWarning   NoticeLevel = "warning"
	NoticeError     NoticeLevel = "error"
	NoticeInfo      NoticeLevel = "info"
)

// Notice is a non-fatal message for the user.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Snapshot is a copy of the presentation state.
type Snapshot struct {
	Companion     string `json:"companion"`
	Expression    string `json:"expression"`
	Text          string `json:"text"`
	BubbleVisible bool   `json:"bubble_visible"`
	Fallback      bool   `json:"fallback"`
	Generation    uint64 `json:"generation"`
}

// Message is what renderers receive.
type Message struct {
	Type   string    `json:"type"`
	State  *Snapshot `json:"state,omitempty"`
	Notice *Notice   `json:"notice,omitempty"`
}

const (
	MessageState  = "state"
	MessageNotice = "notice"
)

// State is the single owned presentation state. Every change is delivered
// to subscribers after the lock is released.
type State struct {
	mu        sync.Mutex
	snap      Snapshot
	listeners map[int]func(Message)
	nextID    int
}

func NewState(companionID string) *State {
	return &State{
		snap:      Snapshot{Companion: companionID, Expression: "neutral"},
		listeners: make(map[int]func(Message)),
	}
}

// Subscribe registers fn for every state change and notice. fn must not
// block. The returned func removes it.
func (s *State) Subscribe(fn func(Message)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *State) BubbleVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.BubbleVisible
}

// SetCompanion switches the displayed companion and hides any bubble.
func (s *State) SetCompanion(id string) {
	s.update(func(snap *Snapshot) bool {
		if snap.Companion == id && !snap.BubbleVisible {
			return false
		}
		snap.Companion = id
		snap.Expression = "neutral"
		snap.Text = ""
		snap.BubbleVisible = false
		return true
	})
}

// Show displays text from the given generation.
func (s *State) Show(generation uint64, expression, text string) {
	s.update(func(snap *Snapshot) bool {
		snap.Generation = generation
		snap.Expression = expression
		snap.Text = text
		snap.BubbleVisible = true
		return true
	})
}

// Hide dismisses the bubble. The expression is kept.
func (s *State) Hide() {
	s.update(func(snap *Snapshot) bool {
		if !snap.BubbleVisible {
			return false
		}
		snap.BubbleVisible = false
		snap.Text = ""
		return true
	})
}

// SetFallback switches renderers to the asset-free presentation.
func (s *State) SetFallback() {
	s.update(func(snap *Snapshot) bool {
		if snap.Fallback {
			return false
		}
		snap.Fallback = true
		return true
	})
}

// Notify delivers n to subscribers without changing state.
func (s *State) Notify(n Notice) {
	s.emit(Message{Type: MessageNotice, Notice: &n})
}

func (s *State) update(fn func(*Snapshot) bool) {
	s.mu.Lock()
	changed := fn(&s.snap)
	snap := s.snap
	s.mu.Unlock()
	if changed {
		s.emit(Message{Type: MessageState, State: &snap})
	}
}

func (s *State) emit(msg Message) {
	s.mu.Lock()
	fns := make([]func(Message), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}
