package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/zapelm/coordinator"
	"github.com/hazyhaar/zapelm/internal/render"
	"github.com/hazyhaar/zapelm/page"
	"github.com/hazyhaar/zapelm/picker"
)

// Snapshot metadata headers.
const (
	HeaderSnapshotID = "X-Zapelm-Snapshot-Id"
	HeaderHTMLHash   = "X-Zapelm-Html-Hash"
	HeaderRemoved    = "X-Zapelm-Removed"
)

func (s *server) listTabs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Tabs())
}

func (s *server) page(tabID string) (*page.Page, error) {
	if s.pages == nil {
		return nil, ErrNoPages
	}
	p, ok := s.pages.Get(tabID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", coordinator.ErrUnknownTab, tabID)
	}
	return p, nil
}

func (s *server) openTab(w http.ResponseWriter, r *http.Request) {
	if s.pages == nil {
		s.fail(w, r, ErrNoPages)
		return
	}
	var req struct {
		URL  string `json:"url"`
		Mode string `json:"mode"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	p, err := s.pages.Open(r.Context(), req.URL, req.Mode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"tabId":    p.TabID(),
		"url":      p.URL(),
		"hostname": p.Hostname(),
	})
}

func (s *server) tabStatus(w http.ResponseWriter, r *http.Request) {
	p, err := s.page(chi.URLParam(r, "tabID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := p.Status(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) closeTab(w http.ResponseWriter, r *http.Request) {
	if s.pages == nil {
		s.fail(w, r, ErrNoPages)
		return
	}
	id := chi.URLParam(r, "tabID")
	if err := s.pages.Close(id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"closed": id})
}

func (s *server) activateTab(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tabID")
	if err := s.coord.SetActiveTab(id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": id})
}

func (s *server) command(w http.ResponseWriter, r *http.Request) {
	switch name := chi.URLParam(r, "name"); name {
	case "activate-picker":
		if err := s.coord.ActivatePicker(r.Context()); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"command": name, "tabId": s.coord.ActiveTab()})
	case "toggle-enabled":
		enabled, err := s.coord.ToggleEnabled(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"command": name, "tabId": s.coord.ActiveTab(), "enabled": enabled})
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown command %q", name))
	}
}

type eventRequest struct {
	Type   string `json:"type"`
	XPath  string `json:"xpath"`
	Button int    `json:"button"`
	Key    string `json:"key"`
}

type eventResponse struct {
	Consumed           bool `json:"consumed"`
	DefaultPrevented   bool `json:"defaultPrevented"`
	PropagationStopped bool `json:"propagationStopped"`
}

func (s *server) dispatchEvent(w http.ResponseWriter, r *http.Request) {
	p, err := s.page(chi.URLParam(r, "tabID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req eventRequest
	if !decode(w, r, &req) {
		return
	}
	typ, ok := picker.ParseEventType(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown event type %q", req.Type))
		return
	}
	ev, consumed, err := p.DispatchXPathEvent(r.Context(), typ, req.XPath, req.Button, req.Key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{
		Consumed:           consumed,
		DefaultPrevented:   ev.DefaultPrevented,
		PropagationStopped: ev.PropagationStopped,
	})
}

func (s *server) snapshot(w http.ResponseWriter, r *http.Request) {
	format, err := render.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.page(chi.URLParam(r, "tabID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	snap, err := p.Snapshot(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body, err := s.renderer.Render(snap, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", format.ContentType())
	h.Set(HeaderSnapshotID, snap.ID)
	h.Set(HeaderHTMLHash, snap.HTMLHash)
	h.Set(HeaderRemoved, strconv.Itoa(snap.Removed))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
