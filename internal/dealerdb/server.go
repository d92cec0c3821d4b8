package dealerdb

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Server exposes the store over HTTP.
type Server struct {
	store  *Store
	logger *slog.Logger
	router *mux.Router
	http   http.Handler
}

// NewServer builds the route table.
func NewServer(store *Store, logger *slog.Logger) *Server {
	s := &Server{store: store, logger: logger, router: mux.NewRouter().StrictSlash(true)}
	s.router.Use(s.logRequests)
	s.router.HandleFunc("/", s.handleWelcome).Methods(http.MethodGet)
	s.router.HandleFunc("/fetchReviews", s.handleReviews).Methods(http.MethodGet)
	s.router.HandleFunc("/fetchReviews/dealer/{id:[0-9]+}", s.handleDealerReviews).Methods(http.MethodGet)
	s.router.HandleFunc("/fetchDealers", s.handleDealers).Methods(http.MethodGet)
	s.router.HandleFunc("/fetchDealers/{state}", s.handleDealersByState).Methods(http.MethodGet)
	s.router.HandleFunc("/fetchDealer/{id:[0-9]+}", s.handleDealer).Methods(http.MethodGet)
	s.router.HandleFunc("/insert_review", s.handleInsertReview).Methods(http.MethodPost)
	s.http = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.OptionStatusCode(http.StatusNoContent),
	)(s.router)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.http.ServeHTTP(w, r)
}

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Welcome to the dealership data API"))
}

func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.store.Reviews(r.Context())
	if err != nil {
		s.fail(w, "Error fetching documents", err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) handleDealerReviews(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	reviews, err := s.store.ReviewsByDealer(r.Context(), id)
	if err != nil {
		s.fail(w, "Error fetching documents", err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) handleDealers(w http.ResponseWriter, r *http.Request) {
	dealers, err := s.store.Dealers(r.Context())
	if err != nil {
		s.fail(w, "Error fetching dealerships", err)
		return
	}
	writeJSON(w, http.StatusOK, dealers)
}

func (s *Server) handleDealersByState(w http.ResponseWriter, r *http.Request) {
	dealers, err := s.store.DealersByState(r.Context(), mux.Vars(r)["state"])
	if err != nil {
		s.fail(w, "Error fetching dealerships by state", err)
		return
	}
	writeJSON(w, http.StatusOK, dealers)
}

func (s *Server) handleDealer(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])
	dealer, err := s.store.Dealer(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Dealer not found"})
		return
	}
	if err != nil {
		s.fail(w, "Error fetching dealer", err)
		return
	}
	writeJSON(w, http.StatusOK, dealer)
}

func (s *Server) handleInsertReview(w http.ResponseWriter, r *http.Request) {
	var review Review
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		s.fail(w, "Error inserting review", err)
		return
	}
	stored, err := s.store.InsertReview(r.Context(), review)
	if err != nil {
		s.fail(w, "Error inserting review", err)
		return
	}
	s.logger.Info("review inserted", "id", stored.ID, "dealership", int(stored.Dealership))
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("http_request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
