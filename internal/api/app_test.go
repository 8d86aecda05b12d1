package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/sidekick/internal/commentary"
	"github.com/kalambet/sidekick/internal/companion"
	"github.com/kalambet/sidekick/internal/config"
	"github.com/kalambet/sidekick/internal/llm"
	"github.com/kalambet/sidekick/internal/presentation"
	"github.com/kalambet/sidekick/internal/scheduler"
	"github.com/kalambet/sidekick/internal/storage"
)

const testToken = "test-token-12345"

type memKeychain struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memKeychain) Get(service, account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", config.ErrSecretNotFound
	}
	return v, nil
}

func (m *memKeychain) Set(service, account, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[service+"/"+account] = value
	return nil
}

func (m *memKeychain) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, service+"/"+account)
	return nil
}

type mockGenerator struct {
	mu    sync.Mutex
	reply commentary.Reply
	err   error
	reqs  []commentary.Request
}

func (m *mockGenerator) Generate(ctx context.Context, req commentary.Request) (commentary.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	return m.reply, m.err
}

type mockModels struct {
	ids []string
	err error
	key string
}

func (m *mockModels) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	m.key = apiKey
	return m.ids, m.err
}

type testEnv struct {
	handler  http.Handler
	deps     AppDeps
	backend  *config.MemoryBackend
	gen      *mockGenerator
	models   *mockModels
	notifier *config.Notifier
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("SIDEKICK_API_KEY", "")

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		backend:  config.NewMemoryBackend(),
		gen:      &mockGenerator{reply: commentary.Reply{Commentary: "Tidy.", Expression: commentary.Happy}},
		models:   &mockModels{ids: []string{"gpt-a", "gpt-b"}},
		notifier: config.NewNotifier(),
	}
	settings := config.NewSettings(env.backend, env.notifier)
	catalog := companion.Builtin()
	state := presentation.NewState(settings.SelectedCompanion())
	resolver := companion.Resolver{Catalog: catalog, Prompts: settings}
	sched := scheduler.New(context.Background(), env.gen, settings, resolver, state, store)
	t.Cleanup(sched.Wait)

	env.deps = AppDeps{
		Token:     testToken,
		Scheduler: sched,
		Settings:  settings,
		Secrets:   config.NewSecrets(&memKeychain{values: map[string]string{}}, env.notifier),
		Catalog:   catalog,
		State:     state,
		Store:     store,
		Models:    env.models,
		Renderers: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	}
	env.handler = NewHandler(env.deps)
	return env
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (e *testEnv) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %s: %v", rr.Body.String(), err)
	}
	return v
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[map[string]map[string]string](t, rr)
	return body["error"]["type"]
}

func TestHealth_NoAuth(t *testing.T) {
	env := setupTestEnv(t)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rr.Code, rr.Body.String())
	}
}

func TestAuth(t *testing.T) {
	env := setupTestEnv(t)

	cases := []struct {
		name  string
		req   *http.Request
		codes int
	}{
		{"v1 missing token", authReq(http.MethodGet, "/v1/companions", "", ""), http.StatusUnauthorized},
		{"v1 wrong token", authReq(http.MethodGet, "/v1/companions", "", "nope"), http.StatusUnauthorized},
		{"v1 query token ignored", authReq(http.MethodGet, "/v1/companions?token="+testToken, "", ""), http.StatusUnauthorized},
		{"v1 ok", authReq(http.MethodGet, "/v1/companions", "", testToken), http.StatusOK},
		{"ws missing token", authReq(http.MethodGet, "/ws", "", ""), http.StatusUnauthorized},
		{"ws query token", authReq(http.MethodGet, "/ws?token="+testToken, "", ""), http.StatusTeapot},
		{"ws header token", authReq(http.MethodGet, "/ws", "", testToken), http.StatusTeapot},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			env.handler.ServeHTTP(rr, tc.req)
			if rr.Code != tc.codes {
				t.Fatalf("status = %d, want %d; body = %s", rr.Code, tc.codes, rr.Body.String())
			}
			if rr.Code == http.StatusUnauthorized && errorType(t, rr) != "authentication_error" {
				t.Errorf("error type = %q", errorType(t, rr))
			}
		})
	}
}

func TestTextEvent_TriggersAtThreshold(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.Set("companion.frequency", 20)

	body := `{"inserted":10,"document":{"text":"x := 1","file_name":"a.go","language_id":"go","line":1}}`
	first := decode[map[string]bool](t, env.do(t, http.MethodPost, "/v1/events/text", body))
	second := decode[map[string]bool](t, env.do(t, http.MethodPost, "/v1/events/text", body))
	env.deps.Scheduler.Wait()

	if first["triggered"] || !second["triggered"] {
		t.Errorf("triggered = %v, %v; want false, true", first["triggered"], second["triggered"])
	}
	if !env.deps.State.BubbleVisible() {
		t.Error("bubble not shown after trigger")
	}
}

func TestTextEvent_LargeDocument(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.Set("companion.frequency", 100)

	text := strings.Repeat("a", 2<<20)
	body := fmt.Sprintf(`{"inserted":10,"document":{"text":%q,"file_name":"big.go","language_id":"go","line":1}}`, text)
	rr := env.do(t, http.MethodPost, "/v1/events/text", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if typed := env.deps.Scheduler.Status().Typed; typed != 10 {
		t.Errorf("typed = %d, want 10", typed)
	}
}

func TestTextEvent_CountOnly(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.Set("companion.frequency", 20)

	withDoc := `{"inserted":10,"document":{"text":"x := 1","file_name":"a.go","language_id":"go","line":1}}`
	first := decode[map[string]bool](t, env.do(t, http.MethodPost, "/v1/events/text", withDoc))
	second := decode[map[string]bool](t, env.do(t, http.MethodPost, "/v1/events/text", `{"inserted":10}`))
	env.deps.Scheduler.Wait()

	if first["triggered"] || !second["triggered"] {
		t.Errorf("triggered = %v, %v; want false, true", first["triggered"], second["triggered"])
	}
	env.gen.mu.Lock()
	defer env.gen.mu.Unlock()
	if len(env.gen.reqs) != 1 {
		t.Fatalf("generate calls = %d, want 1", len(env.gen.reqs))
	}
	if got := env.gen.reqs[0].FileName; got != "a.go" {
		t.Errorf("file name = %q, want a.go", got)
	}
}

func TestTextEvent_Invalid(t *testing.T) {
	env := setupTestEnv(t)
	for _, body := range []string{`{"inserted":-1}`, `not json`} {
		rr := env.do(t, http.MethodPost, "/v1/events/text", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestEditorEventAndDismiss(t *testing.T) {
	env := setupTestEnv(t)
	env.deps.State.Show(1, "happy", "hi")

	rr := env.do(t, http.MethodPost, "/v1/events/editor", `{"file_name":"b.go"}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("editor status = %d", rr.Code)
	}
	if env.deps.State.BubbleVisible() {
		t.Error("bubble visible after editor switch")
	}
	if got := env.deps.Scheduler.Status().ActiveFile; got != "b.go" {
		t.Errorf("active file = %q", got)
	}

	env.deps.State.Show(2, "happy", "hi again")
	if rr := env.do(t, http.MethodPost, "/v1/commentary/dismiss", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("dismiss status = %d", rr.Code)
	}
	if env.deps.State.BubbleVisible() {
		t.Error("bubble visible after dismiss")
	}
}

func TestTrigger(t *testing.T) {
	env := setupTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/commentary/trigger", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("trigger without document = %d, want 400", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/v1/commentary/trigger", `{"text":"print(1)","file_name":"a.py","language_id":"python","line":1}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("trigger = %d: %s", rr.Code, rr.Body.String())
	}
	reply := decode[commentary.Reply](t, rr)
	if reply.Commentary != "Tidy." || reply.Expression != commentary.Happy {
		t.Errorf("reply = %+v", reply)
	}

	// The last document is reused.
	if rr := env.do(t, http.MethodPost, "/v1/commentary/trigger", ""); rr.Code != http.StatusOK {
		t.Errorf("repeat trigger = %d", rr.Code)
	}

	comments, err := env.deps.Store.ListComments(0, 0)
	if err != nil || len(comments) != 2 {
		t.Errorf("recorded comments = %d, %v", len(comments), err)
	}
}

func TestTrigger_ErrorMapping(t *testing.T) {
	cases := []struct {
		err     error
		code    int
		errType string
	}{
		{fmt.Errorf("%w: %w", commentary.ErrNeedsCredential, llm.ErrMissingCredential), http.StatusPreconditionFailed, "credential_required"},
		{fmt.Errorf("%w: x", commentary.ErrRateLimited), http.StatusTooManyRequests, "rate_limit_error"},
		{errors.New("boom"), http.StatusBadGateway, "api_error"},
	}
	for _, tc := range cases {
		t.Run(tc.errType, func(t *testing.T) {
			env := setupTestEnv(t)
			env.gen.err = tc.err
			rr := env.do(t, http.MethodPost, "/v1/commentary/trigger", `{"text":"x"}`)
			if rr.Code != tc.code {
				t.Fatalf("status = %d, want %d", rr.Code, tc.code)
			}
			if got := errorType(t, rr); got != tc.errType {
				t.Errorf("type = %q, want %q", got, tc.errType)
			}
		})
	}
}

func TestCompanions(t *testing.T) {
	env := setupTestEnv(t)

	views := decode[[]companionView](t, env.do(t, http.MethodGet, "/v1/companions", ""))
	if len(views) != len(companion.Builtin().List()) {
		t.Fatalf("companions = %d", len(views))
	}
	for _, v := range views {
		if v.Selected != (v.ID == "cat") {
			t.Errorf("%s selected = %v", v.ID, v.Selected)
		}
	}

	rr := env.do(t, http.MethodPut, "/v1/companion", `{"id":"owl"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("select = %d: %s", rr.Code, rr.Body.String())
	}
	if got := env.deps.Settings.SelectedCompanion(); got != "owl" {
		t.Errorf("selected = %q, want owl", got)
	}

	rr = env.do(t, http.MethodPut, "/v1/companion", `{"id":"dragon"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown select = %d, want 404", rr.Code)
	}

	current := decode[map[string]json.RawMessage](t, env.do(t, http.MethodGet, "/v1/companion", ""))
	var comp companion.Companion
	if err := json.Unmarshal(current["companion"], &comp); err != nil || comp.ID != "owl" {
		t.Errorf("current companion = %s", current["companion"])
	}
}

func TestCompanionPrompt(t *testing.T) {
	env := setupTestEnv(t)

	if rr := env.do(t, http.MethodPut, "/v1/companions/dog/prompt", `{"prompt":"You are a pirate dog."}`); rr.Code != http.StatusNoContent {
		t.Fatalf("set prompt = %d", rr.Code)
	}
	if got := env.deps.Settings.CustomPrompt("dog"); got != "You are a pirate dog." {
		t.Errorf("prompt = %q", got)
	}
	if rr := env.do(t, http.MethodPut, "/v1/companions/dragon/prompt", `{"prompt":"x"}`); rr.Code != http.StatusNotFound {
		t.Errorf("unknown companion prompt = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/v1/companions/dog/prompt", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("clear prompt = %d", rr.Code)
	}
	if got := env.deps.Settings.CustomPrompt("dog"); got != "" {
		t.Errorf("prompt after clear = %q", got)
	}
}

func TestCredential(t *testing.T) {
	env := setupTestEnv(t)
	events, unsub := env.notifier.Subscribe(8)
	defer unsub()

	status := decode[map[string]bool](t, env.do(t, http.MethodGet, "/v1/credential", ""))
	if status["configured"] {
		t.Fatal("credential configured before store")
	}

	if rr := env.do(t, http.MethodPut, "/v1/credential", `{"key":"sk-secret"}`); rr.Code != http.StatusNoContent {
		t.Fatalf("store = %d", rr.Code)
	}
	rr := env.do(t, http.MethodGet, "/v1/credential", "")
	if strings.Contains(rr.Body.String(), "sk-secret") {
		t.Error("credential value leaked in status response")
	}
	if !decode[map[string]bool](t, rr)["configured"] {
		t.Error("credential not configured after store")
	}

	if rr := env.do(t, http.MethodDelete, "/v1/credential", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("clear = %d", rr.Code)
	}
	if decode[map[string]bool](t, env.do(t, http.MethodGet, "/v1/credential", ""))["configured"] {
		t.Error("credential configured after clear")
	}

	var credentialEvents int
	for len(events) > 0 {
		if ev := <-events; ev.Key == "credential" {
			credentialEvents++
		}
	}
	if credentialEvents != 2 {
		t.Errorf("credential events = %d, want 2", credentialEvents)
	}
}

func TestSettings(t *testing.T) {
	env := setupTestEnv(t)

	if rr := env.do(t, http.MethodPut, "/v1/settings", `{"key":"companion.frequency","value":"250"}`); rr.Code != http.StatusNoContent {
		t.Fatalf("set = %d: %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodPut, "/v1/settings", `{"key":"companion.frequency","value":"lots"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid set = %d, want 400", rr.Code)
	}

	infos := decode[[]config.KeyInfo](t, env.do(t, http.MethodGet, "/v1/settings", ""))
	found := false
	for _, ki := range infos {
		if ki.Key == "companion.frequency" {
			found = true
			if ki.Value != "250" {
				t.Errorf("frequency = %q, want 250", ki.Value)
			}
		}
	}
	if !found {
		t.Error("companion.frequency missing from settings")
	}
}

func TestModels(t *testing.T) {
	env := setupTestEnv(t)
	env.deps.Secrets.Store("sk-models")

	rr := env.do(t, http.MethodGet, "/v1/models", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("models = %d", rr.Code)
	}
	body := decode[struct {
		Object string       `json:"object"`
		Data   []modelEntry `json:"data"`
	}](t, rr)
	if body.Object != "list" || len(body.Data) != 2 || body.Data[0].ID != "gpt-a" {
		t.Errorf("body = %+v", body)
	}
	if env.models.key != "sk-models" {
		t.Errorf("lister got key %q", env.models.key)
	}

	env.models.err = llm.ErrMissingCredential
	if rr := env.do(t, http.MethodGet, "/v1/models", ""); rr.Code != http.StatusPreconditionFailed {
		t.Errorf("models without credential = %d, want 412", rr.Code)
	}
}

func TestComments(t *testing.T) {
	env := setupTestEnv(t)
	for i := range 3 {
		if _, err := env.deps.Store.SaveComment(storage.Comment{ID: fmt.Sprintf("c%d", i), Companion: "cat", Commentary: "meow", Expression: "neutral"}); err != nil {
			t.Fatal(err)
		}
	}

	list := decode[[]storage.Comment](t, env.do(t, http.MethodGet, "/v1/comments?limit=2", ""))
	if len(list) != 2 {
		t.Errorf("list = %d, want 2", len(list))
	}

	if rr := env.do(t, http.MethodGet, "/v1/comments/c1", ""); rr.Code != http.StatusOK {
		t.Errorf("get = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/v1/comments/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("get missing = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/v1/comments/c1", ""); rr.Code != http.StatusNoContent {
		t.Errorf("delete = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/v1/comments/c1", ""); rr.Code != http.StatusNotFound {
		t.Errorf("delete again = %d, want 404", rr.Code)
	}

	purged := decode[map[string]int](t, env.do(t, http.MethodDelete, "/v1/comments", ""))
	if purged["deleted"] != 2 {
		t.Errorf("purged = %d, want 2", purged["deleted"])
	}
	empty := env.do(t, http.MethodGet, "/v1/comments", "")
	if strings.TrimSpace(empty.Body.String()) != "[]" {
		t.Errorf("empty list body = %q", empty.Body.String())
	}
}

func TestStatus(t *testing.T) {
	env := setupTestEnv(t)
	env.backend.Set("companion.frequency", 300)

	st := decode[statusResponse](t, env.do(t, http.MethodGet, "/v1/status", ""))
	if st.Scheduler.Threshold != 300 || st.State.Companion != "cat" {
		t.Errorf("status = %+v", st)
	}
}
