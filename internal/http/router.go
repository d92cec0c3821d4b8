package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/dealership/internal/remote"
	"github.com/splax/dealership/internal/service/auth"
	"github.com/splax/dealership/internal/service/catalog"
	"github.com/splax/dealership/internal/service/dealership"
	"github.com/splax/dealership/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	auth         auth.Service
	catalog      catalog.Service
	dealership   dealership.Service
	hub          *ws.Hub
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	cookieName   string
	cookieSecure bool
	mediaURL     string
	mediaRoot    string
	heartbeat    time.Duration
	dbHealth     func(context.Context) error

	trustedProxies []netip.Prefix

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// Options carries the router's dependencies.
type Options struct {
	Logger       *slog.Logger
	Auth         auth.Service
	Catalog      catalog.Service
	Dealership   dealership.Service
	Hub          *ws.Hub
	Limiter      RateLimiter
	CookieName   string
	CookieSecure bool
	MediaURL     string
	MediaRoot    string
	Heartbeat    time.Duration
	DBHealth     func(context.Context) error

	// TrustedProxies lists addresses or CIDR prefixes whose
	// X-Forwarded-For header is believed.
	TrustedProxies []string
}

const (
	rateWindowDefault  = time.Minute
	rateLimitRegister  = 5
	rateLimitLogin     = 12
	rateLimitAddReview = 30
	healthCheckTimeout = 2 * time.Second
	defaultHeartbeat   = 25 * time.Second

	msgNotFound          = "Not Found"
	msgBadRequest        = "Bad Request"
	msgUpstream          = "Upstream service error"
	msgPostingReview     = "Error in posting review"
	msgInvalidJSON       = "Invalid JSON body"
	msgInvalidCreds      = "Invalid credentials"
	msgAlreadyRegistered = "Already Registered"
)

// NewRouter assembles routes with dependencies. Malformed trusted proxy
// entries are logged and skipped.
func NewRouter(opts Options) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     opts.Logger,
		auth:       opts.Auth,
		catalog:    opts.Catalog,
		dealership: opts.Dealership,
		hub:        opts.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      opts.Limiter,
		cookieName:   strings.TrimSpace(opts.CookieName),
		cookieSecure: opts.CookieSecure,
		mediaURL:     opts.MediaURL,
		mediaRoot:    strings.TrimSpace(opts.MediaRoot),
		heartbeat:    opts.Heartbeat,
		dbHealth:     opts.DBHealth,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.cookieName == "" {
		r.cookieName = "sessionid"
	}
	if r.heartbeat <= 0 {
		r.heartbeat = defaultHeartbeat
	}
	for _, entry := range opts.TrustedProxies {
		prefixes, err := parseTrustedProxies([]string{entry})
		if err != nil {
			r.logger.Warn("ignoring trusted proxy", "error", err)
			continue
		}
		r.trustedProxies = append(r.trustedProxies, prefixes...)
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.Handle("/metrics", r.metricsHandler())
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))

	r.mux.HandleFunc("/login", r.audit("login", postOnly(r.withRateLimit("login", rateLimitLogin, rateWindowDefault, r.rateLimitKeyIP, r.handleLogin))))
	r.mux.HandleFunc("/logout", r.audit("logout", r.handleLogout))
	r.mux.HandleFunc("/register", r.audit("register", postOnly(r.withRateLimit("register", rateLimitRegister, rateWindowDefault, r.rateLimitKeyIP, r.handleRegister))))

	r.mux.HandleFunc("/get_cars", r.audit("get_cars", r.handleGetCars))
	r.mux.HandleFunc("/get_dealers", r.audit("get_dealers", r.handleGetDealers))
	r.mux.HandleFunc("/get_dealers/", r.audit("get_dealers", r.handleGetDealers))
	r.mux.HandleFunc("/dealers/", r.audit("get_dealers", r.handleGetDealers))
	r.mux.HandleFunc("/dealer/", r.audit("dealer", r.handleDealer))
	r.mux.HandleFunc("/reviews/dealer/", r.audit("dealer_reviews", r.handleDealerReviews))
	r.mux.HandleFunc("/add_review", r.audit("add_review", postOnly(r.withSession(r.requireSession(
		r.withRateLimit("add_review", rateLimitAddReview, rateWindowDefault, rateLimitKeyUser, r.handleAddReview))))))

	r.mux.HandleFunc("/ws/reviews", r.audit("ws_reviews", r.handleReviewsWS))
	r.mux.HandleFunc("/sse/reviews", r.audit("sse_reviews", r.handleReviewsSSE))

	if r.mediaRoot != "" {
		prefix := "/" + strings.Trim(r.mediaURL, "/") + "/"
		if prefix == "//" {
			prefix = "/media/"
		}
		r.mux.Handle(prefix, http.StripPrefix(prefix, http.FileServer(http.Dir(r.mediaRoot))))
	}
}

// postOnly answers 405 for anything but POST before any other work runs.
func postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeFailure(w, http.StatusMethodNotAllowed, msgInvalidMethod)
			return
		}
		next(w, req)
	}
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Username string `json:"userName"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeFailure(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	user, session, err := r.auth.Login(req.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeFailure(w, http.StatusUnauthorized, msgInvalidCreds)
			return
		}
		r.logger.Error("login failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.setSessionCookie(w, session.Token, session.ExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"userName": user.Username,
		"status":   "Authenticated",
	})
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if token := r.sessionToken(req); token != "" {
		if err := r.auth.Logout(req.Context(), token); err != nil {
			r.logger.Warn("logout revocation failed", "error", err)
		}
	}
	r.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "userName": ""})
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	var payload auth.RegisterInput
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeFailure(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	user, session, err := r.auth.Register(req.Context(), payload)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrAlreadyRegistered):
		writeFailure(w, http.StatusBadRequest, msgAlreadyRegistered)
		return
	case errors.Is(err, auth.ErrUsernameRequired), errors.Is(err, auth.ErrPasswordRequired):
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	default:
		r.logger.Error("registration failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	r.setSessionCookie(w, session.Token, session.ExpiresAt)
	writeJSON(w, http.StatusCreated, map[string]any{"status": true, "userName": user.Username})
}

func (r *Router) handleGetCars(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeFailure(w, http.StatusMethodNotAllowed, msgInvalidMethod)
		return
	}
	cars, err := r.catalog.ListCars(req.Context())
	if err != nil {
		r.logger.Error("list cars failed", "error", err)
		writeStatus(w, http.StatusInternalServerError, "Error fetching cars")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "CarModels": cars})
}

func (r *Router) handleGetDealers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeFailure(w, http.StatusMethodNotAllowed, msgInvalidMethod)
		return
	}
	state := ""
	for _, prefix := range []string{"/get_dealers/", "/dealers/"} {
		if strings.HasPrefix(req.URL.Path, prefix) {
			state = strings.Trim(strings.TrimPrefix(req.URL.Path, prefix), "/")
			break
		}
	}
	dealers, err := r.dealership.Dealers(req.Context(), state)
	if err != nil {
		r.relayError(w, "fetch dealers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "dealers": dealers})
}

func (r *Router) handleDealer(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeFailure(w, http.StatusMethodNotAllowed, msgInvalidMethod)
		return
	}
	id, ok := dealerIDFromPath(req.URL.Path, "/dealer/")
	if !ok {
		writeStatus(w, http.StatusNotFound, msgNotFound)
		return
	}
	dealer, err := r.dealership.Dealer(req.Context(), id)
	if err != nil {
		r.relayError(w, "fetch dealer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "dealer": dealer})
}

func (r *Router) handleDealerReviews(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeFailure(w, http.StatusMethodNotAllowed, msgInvalidMethod)
		return
	}
	id, ok := dealerIDFromPath(req.URL.Path, "/reviews/dealer/")
	if !ok {
		writeStatus(w, http.StatusNotFound, msgNotFound)
		return
	}
	reviews, err := r.dealership.Reviews(req.Context(), id)
	if err != nil {
		r.relayError(w, "fetch reviews", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "reviews": reviews})
}

func (r *Router) handleAddReview(w http.ResponseWriter, req *http.Request) {
	info, _ := authInfoFromContext(req.Context())
	body, err := readBody(req)
	if err != nil {
		r.logger.Error("add review failed", "error", err, "user_id", info.UserID)
		writeStatus(w, http.StatusInternalServerError, msgPostingReview)
		return
	}
	dealer, err := r.dealership.AddReview(req.Context(), info.FullName, body)
	if err != nil {
		r.logger.Error("add review failed", "error", err, "user_id", info.UserID)
		writeStatus(w, http.StatusInternalServerError, msgPostingReview)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": http.StatusOK, "dealer": dealer})
}

// relayError maps service and upstream errors of the read views.
func (r *Router) relayError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, dealership.ErrBadRequest):
		writeStatus(w, http.StatusBadRequest, msgBadRequest)
	case remote.IsNotFound(err):
		writeStatus(w, http.StatusNotFound, msgNotFound)
	default:
		r.logger.Error(op+" failed", "error", err)
		writeStatus(w, http.StatusBadGateway, msgUpstream)
	}
}

// dealerIDFromPath parses the decimal id that follows prefix. Anything that
// is not a plain run of digits does not match the route.
func dealerIDFromPath(path, prefix string) (int, bool) {
	raw := strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/")
	if raw == "" || len(raw) > 9 {
		return 0, false
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeFailure(w, http.StatusMethodNotAllowed, msgInvalidMethod)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := r.clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			fields = append(fields, "user_id", info.UserID, "actor", "user")
		} else {
			fields = append(fields, "actor", "anonymous")
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}
