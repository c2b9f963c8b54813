package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xopay/notify-service/internal/notify"
)

// RuleStore is the persistence slice the CRUD handlers need.
type RuleStore interface {
	SelectAll(ctx context.Context) ([]notify.Rule, error)
	Get(ctx context.Context, id string) (*notify.Rule, error)
	Insert(ctx context.Context, rule *notify.Rule) error
	Update(ctx context.Context, rule *notify.Rule) error
	Delete(ctx context.Context, id string) error
}

// Reloader refreshes the engine cache after a mutation.
type Reloader interface {
	Reload(ctx context.Context) error
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.SelectAll(r.Context())
	if err != nil {
		s.log.Errorf("List notify rules: %v", err)
		writeError(w, http.StatusInternalServerError, "Storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": rules})
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var rule notify.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "Wrong request body or Content-Type header missing")
		return
	}
	rule.ID = uuid.NewString()
	if err := s.validate.Struct(&rule); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Request with invalid arguments: %v", err))
		return
	}

	if err := s.store.Insert(r.Context(), &rule); err != nil {
		s.log.Errorf("Create notify rule: %v", err)
		writeError(w, http.StatusInternalServerError, "Storage unavailable")
		return
	}
	s.reloadEngine(r.Context())
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.Get(r.Context(), chi.URLParam(r, "ruleID"))
	if errors.Is(err, notify.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if err != nil {
		s.log.Errorf("Get notify rule: %v", err)
		writeError(w, http.StatusInternalServerError, "Storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.Get(r.Context(), chi.URLParam(r, "ruleID"))
	if errors.Is(err, notify.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if err != nil {
		s.log.Errorf("Get notify rule: %v", err)
		writeError(w, http.StatusInternalServerError, "Storage unavailable")
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "Wrong request body or Content-Type header missing")
		return
	}
	if err := applyRuleFields(rule, fields); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(rule); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Request with invalid arguments: %v", err))
		return
	}

	if err := s.store.Update(r.Context(), rule); err != nil {
		s.log.Errorf("Update notify rule: %v", err)
		writeError(w, http.StatusInternalServerError, "Storage unavailable")
		return
	}
	s.reloadEngine(r.Context())
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")
	if _, err := s.store.Get(r.Context(), id); errors.Is(err, notify.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	} else if err != nil {
		s.log.Errorf("Get notify rule: %v", err)
		writeError(w, http.StatusInternalServerError, "Storage unavailable")
		return
	}

	if err := s.store.Delete(r.Context(), id); err != nil {
		s.log.Errorf("Delete notify rule: %v", err)
		writeError(w, http.StatusInternalServerError, "Storage unavailable")
		return
	}
	s.reloadEngine(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) reloadEngine(ctx context.Context) {
	if err := s.engine.Reload(ctx); err != nil {
		s.log.Errorf("Reload notify engine: %v", err)
	}
}

// applyRuleFields merges a partial update into an existing rule. Only the
// mutable string fields are accepted.
func applyRuleFields(rule *notify.Rule, fields map[string]any) error {
	targets := map[string]*string{
		"name":                 &rule.Name,
		"case_regex":           &rule.CaseRegex,
		"case_template":        &rule.CaseTemplate,
		"header_template":      &rule.HeaderTemplate,
		"body_template":        &rule.BodyTemplate,
		"subscribers_template": &rule.SubscribersTemplate,
	}
	for key, value := range fields {
		target, ok := targets[key]
		if !ok {
			continue
		}
		text, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q must be a string", key)
		}
		*target = text
	}
	return nil
}
