package rule

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEnumText(t *testing.T) {
	r := Rule{ID: "r1", Selector: "#ad", Action: Remove, ApplyMode: Observe, Enabled: true}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"action":"remove"`) || !strings.Contains(s, `"applyMode":"observe"`) {
		t.Errorf("wire enums: got %s", s)
	}

	var back Rule
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Action != Remove || back.ApplyMode != Observe {
		t.Errorf("decoded enums: got %v/%v", back.Action, back.ApplyMode)
	}
}

func TestUnknownEnumRejected(t *testing.T) {
	var r Rule
	err := json.Unmarshal([]byte(`{"id":"x","selector":"a","action":"blur","applyMode":"immediate"}`), &r)
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("action: got %v, want ErrUnknownAction", err)
	}
	err = json.Unmarshal([]byte(`{"id":"x","selector":"a","action":"hide","applyMode":"later"}`), &r)
	if !errors.Is(err, ErrUnknownApplyMode) {
		t.Errorf("apply mode: got %v, want ErrUnknownApplyMode", err)
	}
	if _, err := Action(7).MarshalText(); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("marshal out-of-range action: got %v", err)
	}
}

func TestNewAndApply(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	gen := Sequence("rule")
	r := New(Input{Selector: ".promo", Action: Hide, ApplyMode: Immediate, Enabled: true}, gen, t0)
	if r.ID != "rule-1" || !r.CreatedAt.Equal(t0) || !r.UpdatedAt.Equal(t0) {
		t.Fatalf("New: got %+v", r)
	}
	if r2 := New(Input{Selector: "x"}, gen, t0); r2.ID == r.ID {
		t.Errorf("identity reused: %s", r2.ID)
	}

	t1 := t0.Add(time.Minute)
	off := false
	sel := ".banner"
	p := r.Apply(Patch{Enabled: &off, Selector: &sel}, t1)
	if p.Enabled || p.Selector != ".banner" {
		t.Errorf("patch not applied: %+v", p)
	}
	if p.ID != r.ID || !p.CreatedAt.Equal(t0) {
		t.Errorf("identity or creation time changed")
	}
	if !p.UpdatedAt.Equal(t1) {
		t.Errorf("UpdatedAt: got %v, want %v", p.UpdatedAt, t1)
	}
	if !r.Enabled {
		t.Errorf("Apply mutated the receiver")
	}

	empty := r.Apply(Patch{}, t1)
	if !empty.UpdatedAt.Equal(t1) {
		t.Errorf("empty patch must still refresh UpdatedAt")
	}
}

func TestPatchJSONOmitsUnset(t *testing.T) {
	var p Patch
	if err := json.Unmarshal([]byte(`{"enabled":false}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Enabled == nil || *p.Enabled || p.Selector != nil || p.Action != nil || p.ApplyMode != nil {
		t.Errorf("patch: got %+v", p)
	}
}

func TestValidate(t *testing.T) {
	if err := (Input{Selector: "  "}).Validate(); !errors.Is(err, ErrEmptySelector) {
		t.Errorf("blank selector: got %v", err)
	}
	if err := (Input{Selector: "div["}).Validate(); err != nil {
		t.Errorf("syntax is not checked here: got %v", err)
	}
}

func TestMapHelpers(t *testing.T) {
	m := Map{"a.com": {{ID: "1", Enabled: true}, {ID: "2"}}}
	c := m.Clone()
	c["a.com"][0].Enabled = false
	if !m["a.com"][0].Enabled {
		t.Error("Clone shares rule slices")
	}
	if Find(m["a.com"], "2") != 1 || Find(m["a.com"], "9") != -1 {
		t.Error("Find")
	}
	if got := Enabled(m["a.com"]); len(got) != 1 || got[0].ID != "1" {
		t.Errorf("Enabled: got %+v", got)
	}
}
