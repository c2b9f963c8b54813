package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Verifier checks an inbound token and returns its groups claim.
type Verifier interface {
	Groups(token string) ([]string, error)
}

// Server is the administrative HTTP surface: rule CRUD plus metrics and
// health endpoints.
type Server struct {
	store    RuleStore
	engine   Reloader
	verifier Verifier
	validate *validator.Validate
	metrics  http.Handler
	log      *logrus.Entry
}

func New(store RuleStore, engine Reloader, verifier Verifier, metricsHandler http.Handler, log *logrus.Entry) *Server {
	return &Server{
		store:    store,
		engine:   engine,
		verifier: verifier,
		validate: validator.New(),
		metrics:  metricsHandler,
		log:      log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/notifications", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/", s.listRules)
		r.Post("/", s.createRule)
		r.Get("/{ruleID}", s.getRule)
		r.Put("/{ruleID}", s.updateRule)
		r.Delete("/{ruleID}", s.deleteRule)
	})

	return r
}

// requireAdmin admits only bearer tokens carrying the admin group.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Fields(r.Header.Get("Authorization"))
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "Token not found")
			return
		}
		groups, err := s.verifier.Groups(parts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Wrong token")
			return
		}
		for _, group := range groups {
			if group == "admin" {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusForbidden, "Request forbidden for such role")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the service error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"status_code": status,
			"message":     message,
		},
	})
}
