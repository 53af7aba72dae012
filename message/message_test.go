package message

import (
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/zapelm/rule"
)

func TestDecodeSetEnabled(t *testing.T) {
	m, err := Decode([]byte(`{"type":"setEnabled","enabled":false,"reason":"command"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Type != SetEnabled || m.Enabled == nil || *m.Enabled || m.Reason != ReasonCommand {
		t.Errorf("decoded: %+v", m)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, in := range []string{`{`, `{}`, `[]`} {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: got %v, want ErrMalformed", in, err)
		}
	}
}

func TestEncodeAddRule(t *testing.T) {
	data := Encode(NewAddRule("example.com", rule.Input{Selector: "#ad", Action: rule.Remove, ApplyMode: rule.Observe, Enabled: true}))
	s := string(data)
	for _, want := range []string{`"type":"addRule"`, `"hostname":"example.com"`, `"action":"remove"`, `"applyMode":"observe"`} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %s in %s", want, s)
		}
	}
}

func TestDecodeResult(t *testing.T) {
	r, err := DecodeResult(nil)
	if err != nil || !r.Success {
		t.Errorf("empty payload: %+v %v", r, err)
	}
	r, err = DecodeResult([]byte(`{"success":false,"error":"Rule not found"}`))
	if err != nil || r.Success || r.Error != "Rule not found" {
		t.Errorf("failure: %+v %v", r, err)
	}
}
