package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/sidekick/internal/api"
	"github.com/kalambet/sidekick/internal/commentary"
	"github.com/kalambet/sidekick/internal/companion"
	"github.com/kalambet/sidekick/internal/config"
	"github.com/kalambet/sidekick/internal/llm"
	"github.com/kalambet/sidekick/internal/presentation"
	"github.com/kalambet/sidekick/internal/retry"
	"github.com/kalambet/sidekick/internal/scheduler"
	"github.com/kalambet/sidekick/internal/storage"
)

const (
	maxConnections  = 64
	shutdownTimeout = 5 * time.Second
)

// daemon is the in-process commentary stack shared by start and mcp.
type daemon struct {
	cfg      config.Config
	store    *storage.Store
	notifier *config.Notifier
	settings *config.Settings
	secrets  *config.Secrets
	catalog  *companion.Catalog
	llm      *llm.Client
	queue    *retry.Queue
	state    *presentation.State
	hub      *presentation.Hub
	sched    *scheduler.Scheduler
}

// newDaemon wires the stack. Background generations run under ctx.
func newDaemon(ctx context.Context, cfg config.Config) (*daemon, error) {
	catalog, err := companion.Load(filepath.Join(config.ConfigDir(), "companions.yaml"))
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	d := &daemon{
		cfg:      cfg,
		store:    store,
		notifier: config.NewNotifier(),
		catalog:  catalog,
	}
	d.settings = config.NewSettings(config.Backend(), d.notifier)
	d.secrets = config.NewSecrets(config.NewKeychain(), d.notifier)

	d.llm = llm.NewClient(llm.Options{BaseURL: cfg.LLM.Endpoint, Timeout: cfg.LLMTimeout()})
	gen := commentary.NewClient(d.llm, d.secrets, d.commentaryOptions)
	d.queue = retry.NewQueue(gen, retry.Options{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Delay:       cfg.RetryDelay(),
	})
	gen.SetRetrier(d.queue)

	resolver := companion.Resolver{Catalog: catalog, Prompts: d.settings}
	selected, _ := resolver.Resolve(d.settings.SelectedCompanion())
	d.state = presentation.NewState(selected.ID)
	d.hub = presentation.NewHub(d.state)
	d.sched = scheduler.New(ctx, gen, d.settings, resolver, d.state, store)
	d.hub.SetClickHandler(d.sched)
	return d, nil
}

// commentaryOptions reads the model settings for one request.
func (d *daemon) commentaryOptions() commentary.Options {
	c := d.settings.LLM()
	return commentary.Options{
		Endpoint:    c.Endpoint,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}
}

// ListModels lists models at the currently configured endpoint.
func (d *daemon) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	return d.llm.ListModelsAt(ctx, apiKey, d.settings.LLM().Endpoint)
}

func (d *daemon) handler(token string) http.Handler {
	return api.NewHandler(api.AppDeps{
		Token:     token,
		Scheduler: d.sched,
		Settings:  d.settings,
		Secrets:   d.secrets,
		Catalog:   d.catalog,
		State:     d.state,
		Store:     d.store,
		Models:    d,
		Retry:     d.queue,
		Renderers: d.hub,
	})
}

func (d *daemon) mcpServerDeps() api.MCPDeps {
	return api.MCPDeps{
		Scheduler: d.sched,
		Settings:  d.settings,
		Catalog:   d.catalog,
		State:     d.state,
		Store:     d.store,
	}
}

// startWorkers runs the retry queue and the settings watcher in g.
func (d *daemon) startWorkers(ctx context.Context, g *errgroup.Group) {
	events, unsubscribe := d.notifier.Subscribe(16)
	g.Go(func() error {
		d.queue.Run(ctx)
		return nil
	})
	g.Go(func() error {
		defer unsubscribe()
		d.sched.Watch(ctx, events)
		return nil
	})
}

// serve runs the HTTP API on ln together with the workers until ctx ends or
// one of them fails.
func (d *daemon) serve(ctx context.Context, ln net.Listener, token string) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: d.handler(token),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		if err := srv.Serve(netutil.LimitListener(ln, maxConnections)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	d.startWorkers(ctx, g)
	g.Go(func() error {
		<-ctx.Done()
		d.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (d *daemon) Close() error {
	d.sched.Wait()
	return d.store.Close()
}
