// Package scheduler decides when to ask for commentary based on typing
// activity, and applies the result to the presentation state.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/sidekick/internal/commentary"
	"github.com/kalambet/sidekick/internal/companion"
	"github.com/kalambet/sidekick/internal/config"
	"github.com/kalambet/sidekick/internal/presentation"
	"github.com/kalambet/sidekick/internal/storage"
)

const (
	minDismissChars = 10
	dismissPercent  = 5
)

var (
	// ErrStale is returned by Trigger when a newer generation or a
	// companion switch superseded the request before it completed.
	ErrStale = errors.New("commentary superseded by a newer request")

	// ErrNoDocument is returned by Trigger when no document is known yet.
	ErrNoDocument = errors.New("no document to comment on")
)

// Generator produces commentary for a request.
type Generator interface {
	Generate(ctx context.Context, req commentary.Request) (commentary.Reply, error)
}

// Settings reads the live configuration.
type Settings interface {
	Current() config.Config
	Frequency() int
	SelectedCompanion() string
}

// Resolver maps a companion id to the companion and its personality text.
type Resolver interface {
	Resolve(id string) (companion.Companion, string)
}

// Presenter is the presentation state the scheduler drives.
type Presenter interface {
	BubbleVisible() bool
	SetCompanion(id string)
	Show(generation uint64, expression, text string)
	Hide()
	Notify(n presentation.Notice)
}

// Recorder stores shown commentary.
type Recorder interface {
	SaveComment(c storage.Comment) (storage.Comment, error)
}

// Document is the editor content commentary is generated for.
type Document struct {
	Text       string `json:"text"`
	FileName   string `json:"file_name"`
	LanguageID string `json:"language_id"`
	Line       int    `json:"line"`
}

// TextEvent reports an edit: how many characters were inserted and the
// document as it is afterwards. A zero Document counts the edit against the
// last document received.
type TextEvent struct {
	Inserted int      `json:"inserted"`
	Document Document `json:"document"`
}

// Status is a point-in-time view of the counters.
type Status struct {
	Threshold  int    `json:"threshold"`
	Typed      int    `json:"typed"`
	SinceShown int    `json:"since_shown"`
	Generation uint64 `json:"generation"`
	ActiveFile string `json:"active_file"`
}

// Scheduler counts typed characters and triggers generation. Counting is
// synchronous; only generation runs in the background. Every generation
// gets a token, and a reply whose token is no longer current is dropped.
type Scheduler struct {
	ctx        context.Context
	gen        Generator
	settings   Settings
	companions Resolver
	view       Presenter
	history    Recorder
	logger     *slog.Logger

	wg sync.WaitGroup

	mu         sync.Mutex
	typed      int
	sinceShown int
	generation uint64
	activeFile string
	lastDoc    *Document
}

// New creates a Scheduler. Background generations run under ctx. history
// may be nil.
func New(ctx context.Context, gen Generator, settings Settings, companions Resolver, view Presenter, history Recorder) *Scheduler {
	return &Scheduler{
		ctx:        ctx,
		gen:        gen,
		settings:   settings,
		companions: companions,
		view:       view,
		history:    history,
		logger:     slog.Default(),
	}
}

// dismissAfter is how many characters typed while a bubble is shown
// dismiss it.
func dismissAfter(threshold int) int {
	return max(minDismissChars, threshold*dismissPercent/100)
}

// TextChanged records an edit. It returns true if the edit started a
// generation.
func (s *Scheduler) TextChanged(ev TextEvent) bool {
	threshold := s.settings.Frequency()
	inserted := max(ev.Inserted, 0)

	s.mu.Lock()
	if ev.Document != (Document{}) {
		doc := ev.Document
		s.lastDoc = &doc
		if s.activeFile == "" {
			s.activeFile = doc.FileName
		}
	}

	if s.view.BubbleVisible() {
		s.sinceShown += inserted
		if s.sinceShown >= dismissAfter(threshold) {
			s.sinceShown = 0
			s.view.Hide()
		}
	}

	if threshold <= 0 {
		s.mu.Unlock()
		return false
	}

	s.typed += inserted
	if s.typed < threshold {
		s.mu.Unlock()
		return false
	}

	// Reset before the generation resolves; a failed generation waits for
	// another full threshold.
	s.typed = 0
	if s.lastDoc == nil {
		s.mu.Unlock()
		return false
	}
	doc := *s.lastDoc
	s.generation++
	token := s.generation
	s.mu.Unlock()

	s.logger.Debug("typing threshold reached", "threshold", threshold, "generation", token)
	s.launch(token, doc)
	return true
}

// ActiveEditorChanged resets the typed count and dismisses the bubble.
func (s *Scheduler) ActiveEditorChanged(fileName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typed = 0
	s.sinceShown = 0
	s.activeFile = fileName
	if s.lastDoc != nil && s.lastDoc.FileName != fileName {
		s.lastDoc = nil
	}
	s.view.Hide()
}

// Dismiss hides the bubble.
func (s *Scheduler) Dismiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinceShown = 0
	s.view.Hide()
}

// Click dismisses a visible bubble, otherwise asks for commentary on the
// last known document.
func (s *Scheduler) Click() {
	if s.view.BubbleVisible() {
		s.Dismiss()
		return
	}

	s.mu.Lock()
	if s.lastDoc == nil {
		s.mu.Unlock()
		s.logger.Debug("click ignored, no document yet")
		return
	}
	doc := *s.lastDoc
	s.generation++
	token := s.generation
	s.mu.Unlock()

	s.launch(token, doc)
}

// Trigger generates commentary now, bypassing the threshold. A nil doc
// uses the last document seen by TextChanged.
func (s *Scheduler) Trigger(ctx context.Context, doc *Document) (commentary.Reply, error) {
	s.mu.Lock()
	if doc == nil {
		doc = s.lastDoc
	} else {
		d := *doc
		s.lastDoc = &d
	}
	if doc == nil {
		s.mu.Unlock()
		return commentary.Reply{}, ErrNoDocument
	}
	target := *doc
	s.generation++
	token := s.generation
	s.mu.Unlock()

	return s.generate(ctx, token, target)
}

// CompanionChanged switches the displayed companion. In-flight replies
// for the previous companion are discarded.
func (s *Scheduler) CompanionChanged(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.sinceShown = 0
	s.view.SetCompanion(id)
}

// Watch applies configuration changes until ctx ends or events closes.
func (s *Scheduler) Watch(ctx context.Context, events <-chan config.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Key {
			case "companion.selected":
				id := s.settings.SelectedCompanion()
				comp, _ := s.companions.Resolve(id)
				s.logger.Info("companion changed", "companion", comp.ID)
				s.CompanionChanged(comp.ID)
			case "credential":
				s.logger.Info("credential changed")
			default:
				s.logger.Debug("setting changed", "key", ev.Key)
			}
		}
	}
}

// Status returns the current counters.
func (s *Scheduler) Status() Status {
	threshold := s.settings.Frequency()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Threshold:  threshold,
		Typed:      s.typed,
		SinceShown: s.sinceShown,
		Generation: s.generation,
		ActiveFile: s.activeFile,
	}
}

// Wait blocks until background generations finish.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) launch(token uint64, doc Document) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.generate(s.ctx, token, doc)
	}()
}

func (s *Scheduler) generate(ctx context.Context, token uint64, doc Document) (commentary.Reply, error) {
	cfg := s.settings.Current()
	comp, personality := s.companions.Resolve(cfg.Companion.Selected)

	req := commentary.Request{
		Code:        commentary.ExtractContext(doc.Text, doc.Line, cfg.Companion.ContextLines),
		LanguageID:  doc.LanguageID,
		FileName:    doc.FileName,
		Line:        doc.Line,
		Personality: personality,
		Timestamp:   time.Now(),
	}

	reply, err := s.gen.Generate(ctx, req)

	s.mu.Lock()
	current := token == s.generation
	if err == nil && current {
		s.sinceShown = 0
		s.view.Show(token, string(reply.Expression), reply.Commentary)
	}
	s.mu.Unlock()

	if !current {
		s.logger.Info("discarding stale commentary", "generation", token, "error", err)
		return reply, ErrStale
	}
	if err != nil {
		s.notifyFailure(err)
		return commentary.Reply{}, err
	}

	s.record(comp.ID, cfg.LLM.Model, doc, reply)
	return reply, nil
}

func (s *Scheduler) notifyFailure(err error) {
	var n presentation.Notice
	switch {
	case errors.Is(err, commentary.ErrNeedsCredential):
		n = presentation.Notice{Level: presentation.NoticeConfigure, Message: "An API key is needed for commentary: " + config.MissingCredentialHint()}
	case errors.Is(err, commentary.ErrRateLimited):
		n = presentation.Notice{Level: presentation.NoticeWarning, Message: "The model endpoint is rate limiting requests; try again shortly."}
	case errors.Is(err, context.Canceled):
		return
	default:
		n = presentation.Notice{Level: presentation.NoticeError, Message: "Commentary failed: " + err.Error()}
	}
	s.logger.Warn("commentary generation failed", "level", n.Level, "error", err)
	s.view.Notify(n)
}

func (s *Scheduler) record(companionID, model string, doc Document, reply commentary.Reply) {
	if s.history == nil {
		return
	}
	_, err := s.history.SaveComment(storage.Comment{
		Companion:  companionID,
		FileName:   doc.FileName,
		LanguageID: doc.LanguageID,
		Line:       doc.Line,
		Commentary: reply.Commentary,
		Expression: string(reply.Expression),
		Sentiment:  reply.Sentiment,
		Model:      model,
	})
	if err != nil {
		s.logger.Warn("failed to record commentary", "error", err)
	}
}
