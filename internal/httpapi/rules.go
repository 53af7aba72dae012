package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/zapelm/rule"
)

func (s *server) exportRules(w http.ResponseWriter, r *http.Request) {
	m, err := s.coord.AllRules(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *server) importRules(w http.ResponseWriter, r *http.Request) {
	var m rule.Map
	if !decode(w, r, &m) {
		return
	}
	if err := s.coord.ImportRules(r.Context(), m); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"hostnames": len(m)})
}

func (s *server) listRules(w http.ResponseWriter, r *http.Request) {
	resp, err := s.coord.Rules(r.Context(), chi.URLParam(r, "hostname"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// addRuleRequest defaults to an enabled immediate hide rule.
type addRuleRequest struct {
	Selector  string         `json:"selector"`
	Action    rule.Action    `json:"action"`
	ApplyMode rule.ApplyMode `json:"applyMode"`
	Enabled   *bool          `json:"enabled"`
}

func (s *server) addRule(w http.ResponseWriter, r *http.Request) {
	var req addRuleRequest
	if !decode(w, r, &req) {
		return
	}
	in := rule.Input{Selector: req.Selector, Action: req.Action, ApplyMode: req.ApplyMode, Enabled: true}
	if req.Enabled != nil {
		in.Enabled = *req.Enabled
	}
	created, err := s.coord.AddRule(r.Context(), chi.URLParam(r, "hostname"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *server) updateRule(w http.ResponseWriter, r *http.Request) {
	var p rule.Patch
	if !decode(w, r, &p) {
		return
	}
	updated, err := s.coord.UpdateRule(r.Context(), chi.URLParam(r, "hostname"), chi.URLParam(r, "id"), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *server) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.coord.DeleteRule(r.Context(), chi.URLParam(r, "hostname"), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *server) toggleDomain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, errors.New("enabled is required"))
		return
	}
	host := chi.URLParam(r, "hostname")
	s.coord.ToggleDomain(r.Context(), host, *req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"hostname": host, "enabled": *req.Enabled})
}

func (s *server) refreshDomain(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "hostname")
	if err := s.coord.Refresh(r.Context(), host); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"refreshed": host})
}
