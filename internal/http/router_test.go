package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/splax/dealership/internal/domain"
	"github.com/splax/dealership/internal/remote"
	"github.com/splax/dealership/internal/repository"
	"github.com/splax/dealership/internal/service/auth"
	"github.com/splax/dealership/internal/service/catalog"
	"github.com/splax/dealership/internal/service/dealership"
	"github.com/splax/dealership/internal/ws"
	"github.com/splax/dealership/pkg/config"
)

type userStore struct {
	mu      sync.Mutex
	users   map[string]domain.User
	creates int
}

func (s *userStore) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Username]; ok {
		return repository.ErrConflict
	}
	s.creates++
	s.users[user.Username] = *user
	return nil
}

func (s *userStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok, nil
}

func (s *userStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[username]; ok {
		return &u, nil
	}
	return nil, repository.ErrNotFound
}

func (s *userStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *userStore) UpdatePasswordHash(ctx context.Context, id string, hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, u := range s.users {
		if u.ID == id {
			u.PasswordHash = hash
			s.users[name] = u
			return nil
		}
	}
	return repository.ErrNotFound
}

type catalogStore struct {
	mu        sync.Mutex
	makes     []domain.CarMake
	seedCalls int
}

func (s *catalogStore) CountCarMakes(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.makes), nil
}

func (s *catalogStore) SeedCatalog(ctx context.Context, makes []domain.CarMake) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seedCalls++
	if len(s.makes) > 0 {
		return false, nil
	}
	s.makes = append(s.makes, makes...)
	return true, nil
}

func (s *catalogStore) ListCarModels(ctx context.Context) ([]domain.CarModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CarModel
	for _, mk := range s.makes {
		for _, m := range mk.Models {
			m.MakeName = mk.Name
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MakeName != out[j].MakeName {
			return out[i].MakeName < out[j].MakeName
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

type dealerSourceStub struct {
	mu        sync.Mutex
	reviews   []domain.Review
	inserted  []json.RawMessage
	fetchErr  error
	insertErr error
	states    []string
}

func (s *dealerSourceStub) FetchDealers(ctx context.Context, state string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return json.RawMessage(`[{"id":1,"state":"Kansas"}]`), nil
}

func (s *dealerSourceStub) FetchDealer(ctx context.Context, id int) (json.RawMessage, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return json.RawMessage(`[{"id":` + itoa(id) + `,"full_name":"Best Cars"}]`), nil
}

func (s *dealerSourceStub) FetchReviews(ctx context.Context, dealerID int) ([]domain.Review, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.reviews, nil
}

func (s *dealerSourceStub) InsertReview(ctx context.Context, review json.RawMessage) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.inserted = append(s.inserted, review)
	return review, nil
}

func (s *dealerSourceStub) insertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inserted)
}

type sentimentStub struct {
	mu    sync.Mutex
	calls int
}

func (s *sentimentStub) Analyze(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if strings.Contains(text, "great") {
		return domain.SentimentPositive, nil
	}
	return domain.SentimentNegative, nil
}

type testEnv struct {
	router    *Router
	users     *userStore
	catalog   *catalogStore
	dealers   *dealerSourceStub
	sentiment *sentimentStub
	hub       *ws.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		users:     &userStore{users: make(map[string]domain.User)},
		catalog:   &catalogStore{},
		dealers:   &dealerSourceStub{},
		sentiment: &sentimentStub{},
		hub:       ws.NewHub(),
	}
	cfg := config.APIConfig{JWTSecret: "test-secret", SessionTTL: time.Hour}
	revoked := auth.NewMemoryRevocationStore()
	env.router = NewRouter(Options{
		Logger:     logger,
		Auth:       auth.New(env.users, revoked, logger, cfg),
		Catalog:    catalog.New(env.catalog, logger),
		Dealership: dealership.New(env.dealers, env.sentiment, env.hub, logger, 2),
		Hub:        env.hub,
		CookieName: "sessionid",
		Heartbeat:  50 * time.Millisecond,
	})
	t.Cleanup(func() {
		env.router.Close()
		env.hub.Close()
		revoked.Close()
	})
	return env
}

func (env *testEnv) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sessionid" && c.Value != "" {
			return c
		}
	}
	return nil
}

func (env *testEnv) register(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/register", `{"userName":"`+username+`","password":"`+password+`","firstName":"Jane","lastName":"Doe"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d body=%s", rec.Code, rec.Body.String())
	}
	cookie := sessionCookie(rec)
	if cookie == nil {
		t.Fatalf("expected session cookie after registration")
	}
	return cookie
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestNonPostRejectedWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/login", "/register", "/add_review"} {
		rec := env.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: status = %d, want 405", path, rec.Code)
		}
		body := decodeBody(t, rec)
		if body["status"] != false || body["error"] != "Invalid method" {
			t.Fatalf("%s: unexpected body %v", path, body)
		}
		if sessionCookie(rec) != nil {
			t.Fatalf("%s: session cookie set on rejected method", path)
		}
	}
	if env.users.creates != 0 {
		t.Fatalf("expected no users created, got %d", env.users.creates)
	}
	if env.dealers.insertCalls() != 0 {
		t.Fatalf("expected review poster untouched")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/register", `{"userName":"jdoe","password":"pw"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != true || body["userName"] != "jdoe" {
		t.Fatalf("unexpected body %v", body)
	}

	rec = env.do(t, http.MethodPost, "/register", `{"userName":"jdoe","password":"other"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Already Registered" {
		t.Fatalf("unexpected duplicate body %v", body)
	}
	if env.users.creates != 1 {
		t.Fatalf("expected one user record, got %d", env.users.creates)
	}
}

func TestRegisterRequiresFields(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/register", `{"userName":"","password":"pw"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/register", `not-json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Invalid JSON body" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestLoginWrongCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "jdoe", "secret")

	for _, payload := range []string{
		`{"userName":"jdoe","password":"wrong"}`,
		`{"userName":"nobody","password":"secret"}`,
	} {
		rec := env.do(t, http.MethodPost, "/login", payload)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		if body := decodeBody(t, rec); body["error"] != "Invalid credentials" {
			t.Fatalf("unexpected body %v", body)
		}
		if sessionCookie(rec) != nil {
			t.Fatalf("session cookie issued for bad credentials")
		}
	}
}

func TestLoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "jdoe", "secret")

	rec := env.do(t, http.MethodPost, "/login", `{"userName":" jdoe ","password":"secret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["userName"] != "jdoe" || body["status"] != "Authenticated" {
		t.Fatalf("unexpected body %v", body)
	}
	cookie := sessionCookie(rec)
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("expected HttpOnly session cookie, got %+v", cookie)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.register(t, "jdoe", "secret")

	rec := env.do(t, http.MethodGet, "/logout", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != true || body["userName"] != "" {
		t.Fatalf("unexpected logout body %v", body)
	}

	rec = env.do(t, http.MethodPost, "/add_review", `{"dealership":15,"review":"great"}`, cookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("add_review after logout status = %d, want 403", rec.Code)
	}
}

func TestAddReviewRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/add_review", `{"dealership":15,"review":"great"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "Unauthorized" || body["status"] != float64(403) {
		t.Fatalf("unexpected body %v", body)
	}
	if env.dealers.insertCalls() != 0 {
		t.Fatalf("review poster called without a session")
	}
}

func TestAddReviewPostsAndReturnsDealer(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.register(t, "jdoe", "secret")

	rec := env.do(t, http.MethodPost, "/add_review", `{"dealership":15,"review":"great service","purchase":true}`, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != float64(200) || body["dealer"] == nil {
		t.Fatalf("unexpected body %v", body)
	}
	if env.dealers.insertCalls() != 1 {
		t.Fatalf("expected one insert, got %d", env.dealers.insertCalls())
	}
	var posted map[string]any
	if err := json.Unmarshal(env.dealers.inserted[0], &posted); err != nil {
		t.Fatalf("decode posted review: %v", err)
	}
	if posted["name"] != "Jane Doe" {
		t.Fatalf("expected author name filled in, got %v", posted["name"])
	}
}

func TestAddReviewFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.register(t, "jdoe", "secret")
	env.dealers.insertErr = errors.New("connection refused")

	rec := env.do(t, http.MethodPost, "/add_review", `{"dealership":15,"review":"great"}`, cookie)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["message"] != "Error in posting review" {
		t.Fatalf("unexpected body %v", body)
	}

	rec = env.do(t, http.MethodPost, "/add_review", `{"review":`, cookie)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
}

func TestGetCarsSeedsOnce(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodGet, "/get_cars", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decodeBody(t, rec)
		models, ok := body["CarModels"].([]any)
		if !ok || len(models) != 15 {
			t.Fatalf("expected 15 car models, got %v", body["CarModels"])
		}
		first := models[0].(map[string]any)
		if first["CarMake"] == "" || first["CarModel"] == "" {
			t.Fatalf("unexpected entry %v", first)
		}
	}
	if env.catalog.seedCalls != 1 {
		t.Fatalf("expected a single seed run, got %d", env.catalog.seedCalls)
	}
}

func TestGetDealersState(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/get_dealers", "/get_dealers/Kansas", "/dealers/Texas"} {
		rec := env.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		if body := decodeBody(t, rec); body["dealers"] == nil {
			t.Fatalf("%s: missing dealers in %v", path, body)
		}
	}
	want := []string{"", "Kansas", "Texas"}
	for i, state := range want {
		if env.dealers.states[i] != state {
			t.Fatalf("call %d state = %q, want %q", i, env.dealers.states[i], state)
		}
	}
}

func TestDealerIDValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		path    string
		status  int
		message string
	}{
		{"/dealer/abc", http.StatusNotFound, "Not Found"},
		{"/dealer/-3", http.StatusNotFound, "Not Found"},
		{"/dealer/0", http.StatusBadRequest, "Bad Request"},
		{"/reviews/dealer/x1", http.StatusNotFound, "Not Found"},
		{"/reviews/dealer/0", http.StatusBadRequest, "Bad Request"},
	}
	for _, tc := range cases {
		rec := env.do(t, http.MethodGet, tc.path, "")
		if rec.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.path, rec.Code, tc.status)
		}
		if body := decodeBody(t, rec); body["message"] != tc.message {
			t.Fatalf("%s: unexpected body %v", tc.path, body)
		}
	}

	rec := env.do(t, http.MethodGet, "/dealer/7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDealerReviewsSentimentInOrder(t *testing.T) {
	env := newTestEnv(t)
	env.dealers.reviews = []domain.Review{
		{"id": json.RawMessage(`1`), "review": json.RawMessage(`"great car"`)},
		{"id": json.RawMessage(`2`), "review": json.RawMessage(`"awful"`)},
		{"id": json.RawMessage(`3`), "review": json.RawMessage(`"great again"`)},
	}
	rec := env.do(t, http.MethodGet, "/reviews/dealer/15", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Reviews []struct {
			ID        int    `json:"id"`
			Sentiment string `json:"sentiment"`
		} `json:"reviews"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"positive", "negative", "positive"}
	if len(body.Reviews) != len(want) {
		t.Fatalf("expected %d reviews, got %d", len(want), len(body.Reviews))
	}
	for i, r := range body.Reviews {
		if r.ID != i+1 || r.Sentiment != want[i] {
			t.Fatalf("review %d = %+v, want id %d sentiment %s", i, r, i+1, want[i])
		}
	}
	if env.sentiment.calls != 3 {
		t.Fatalf("expected 3 sentiment calls, got %d", env.sentiment.calls)
	}
}

func TestUpstreamErrors(t *testing.T) {
	env := newTestEnv(t)
	env.dealers.fetchErr = remote.APIError{Service: "dealers", Status: http.StatusNotFound}
	rec := env.do(t, http.MethodGet, "/dealer/9", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	env.dealers.fetchErr = errors.New("dial tcp: connection refused")
	rec = env.do(t, http.MethodGet, "/get_dealers", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if body := decodeBody(t, rec); body["message"] != "Upstream service error" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t)
	var rec *httptest.ResponseRecorder
	for i := 0; i <= rateLimitLogin; i++ {
		rec = env.do(t, http.MethodPost, "/login", `{"userName":"x","password":"y"}`)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if body := decodeBody(t, rec); body["error"] != "rate limit exceeded" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	env.router.dbHealth = func(context.Context) error { return errors.New("down") }
	rec := env.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "degraded" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestReviewStreams(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.register(t, "jdoe", "secret")
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/reviews?dealer_id=15"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sseReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/reviews?dealer_id=15", nil)
	sseResp, err := http.DefaultClient.Do(sseReq)
	if err != nil {
		t.Fatalf("open sse stream: %v", err)
	}
	defer sseResp.Body.Close()
	if ct := sseResp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers("15") < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/add_review", strings.NewReader(`{"dealership":15,"review":"great"}`))
	req.AddCookie(cookie)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post review: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add_review status = %d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	var event domain.ReviewEvent
	if err := json.Unmarshal(msg, &event); err != nil || event.DealerID != 15 {
		t.Fatalf("unexpected event %s (%v)", msg, err)
	}

	reader := bufio.NewReader(sseResp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, `"dealer_id":15`) {
				t.Fatalf("unexpected sse frame %q", line)
			}
			break
		}
	}
}

func TestStreamsRequireDealerID(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/ws/reviews", "/sse/reviews?dealer_id=abc"} {
		rec := env.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
	}
}

type stalledStream struct {
	release chan struct{}
}

func (s *stalledStream) Send([]byte) error {
	<-s.release
	return nil
}

func (s *stalledStream) Close() {}

func TestAddReviewNotBlockedByStalledStream(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.register(t, "jdoe", "secret")
	stalled := &stalledStream{release: make(chan struct{})}
	env.hub.Register("7", stalled)
	// Registered cleanups run in reverse, so the stream is released before the hub closes.
	t.Cleanup(func() { close(stalled.release) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			env.do(t, http.MethodPost, "/add_review", `{"dealership":7,"review":"great"}`, cookie)
		}
		env.do(t, http.MethodPost, "/add_review", `{"dealership":9,"review":"great"}`, cookie)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("add_review blocked behind a stalled stream subscriber")
	}
	if env.dealers.insertCalls() != 21 {
		t.Fatalf("expected 21 inserts, got %d", env.dealers.insertCalls())
	}
}

func TestLoginRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	env := newTestEnv(t)
	limited := 0
	for i := 0; i < 3*rateLimitLogin; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"userName":"x","password":"y"}`))
		req.Header.Set("X-Forwarded-For", "10.0.0."+itoa(i))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 2*rateLimitLogin {
		t.Fatalf("expected %d rate-limited attempts, got %d", 2*rateLimitLogin, limited)
	}
}

func TestClientIPHonoursTrustedProxies(t *testing.T) {
	r := NewRouter(Options{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		TrustedProxies: []string{"192.0.2.1", "10.1.0.0/16", "not-an-ip"},
	})
	defer r.Close()

	cases := []struct {
		remote    string
		forwarded string
		want      string
	}{
		{"203.0.113.9:5000", "198.51.100.7", "203.0.113.9"},
		{"192.0.2.1:5000", "198.51.100.7", "198.51.100.7"},
		{"192.0.2.1:5000", "6.6.6.6, 198.51.100.7, 10.1.2.3", "198.51.100.7"},
		{"192.0.2.1:5000", "", "192.0.2.1"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = tc.remote
		if tc.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tc.forwarded)
		}
		if got := r.clientIP(req); got != tc.want {
			t.Fatalf("remote %s forwarded %q: got %s, want %s", tc.remote, tc.forwarded, got, tc.want)
		}
	}
}
