// Package message defines the JSON messages exchanged between page contexts
// and the coordinator over the bus.
package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/zapelm/rule"
)

// CoordinatorService is the bus name of the coordinator.
const CoordinatorService = "zapelm.coordinator"

// TabServicePrefix prefixes the bus name of every page context.
const TabServicePrefix = "zapelm.tab."

// TabService returns the bus name of a page context.
func TabService(tabID string) string { return TabServicePrefix + tabID }

// Type discriminates messages.
type Type string

const (
	// Page to coordinator.
	ContentReady        Type = "contentReady"
	GetRules            Type = "getRules"
	GetAllRules         Type = "getAllRules"
	AddRule             Type = "addRule"
	UpdateRule          Type = "updateRule"
	DeleteRule          Type = "deleteRule"
	ImportRules         Type = "importRules"
	ToggleDomainEnabled Type = "toggleDomainEnabled"
	RefreshContent      Type = "refreshContent"

	// Coordinator to page.
	ActivatePicker Type = "activatePicker"
	SetEnabled     Type = "setEnabled"
	ApplyRules     Type = "applyRules"
	SetDebug       Type = "setDebug"
)

// Reasons carried by SetEnabled.
const (
	ReasonCommand = "command"
	ReasonPopup   = "popup"
)

// ErrMalformed is returned for payloads that are not a message.
var ErrMalformed = errors.New("message: malformed")

// Message is the envelope for every request. Fields not used by a type are
// left empty.
type Message struct {
	Type     Type        `json:"type"`
	TabID    string      `json:"tabId,omitempty"`
	Hostname string      `json:"hostname,omitempty"`
	URL      string      `json:"url,omitempty"`
	Enabled  *bool       `json:"enabled,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Rules    []rule.Rule `json:"rules,omitempty"`
	Rule     *rule.Input `json:"rule,omitempty"`
	RuleID   string      `json:"ruleId,omitempty"`
	Patch    *rule.Patch `json:"patch,omitempty"`
	Data     rule.Map    `json:"data,omitempty"`
}

// RuleResponse answers GetRules.
type RuleResponse struct {
	Hostname      string      `json:"hostname"`
	Rules         []rule.Rule `json:"rules"`
	DomainEnabled bool        `json:"domainEnabled"`
}

// AllRulesResponse answers GetAllRules.
type AllRulesResponse struct {
	Data rule.Map `json:"data"`
}

// Result answers mutating requests.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// OK is the success result.
var OK = Result{Success: true}

// Fail builds a failure result.
func Fail(err error) Result { return Result{Success: false, Error: err.Error()} }

// Decode parses a message envelope.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return m, nil
}

// Encode serializes any message or response.
func Encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Messages only hold JSON-safe values; enum fields are validated on
		// construction.
		panic(fmt.Sprintf("message: encode %T: %v", v, err))
	}
	return data
}

// DecodeResult parses a Result. An empty payload counts as success.
func DecodeResult(payload []byte) (Result, error) {
	if len(payload) == 0 {
		return OK, nil
	}
	var r Result
	if err := json.Unmarshal(payload, &r); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return r, nil
}

func boolPtr(b bool) *bool { return &b }

func NewContentReady(tabID, hostname, url string) Message {
	return Message{Type: ContentReady, TabID: tabID, Hostname: hostname, URL: url}
}

func NewActivatePicker() Message { return Message{Type: ActivatePicker} }

func NewSetEnabled(enabled bool, reason string) Message {
	return Message{Type: SetEnabled, Enabled: boolPtr(enabled), Reason: reason}
}

func NewApplyRules(rules []rule.Rule) Message {
	return Message{Type: ApplyRules, Rules: rules}
}

func NewSetDebug(enabled bool) Message {
	return Message{Type: SetDebug, Enabled: boolPtr(enabled)}
}

func NewAddRule(hostname string, in rule.Input) Message {
	return Message{Type: AddRule, Hostname: hostname, Rule: &in}
}

func NewUpdateRule(hostname, id string, p rule.Patch) Message {
	return Message{Type: UpdateRule, Hostname: hostname, RuleID: id, Patch: &p}
}

func NewDeleteRule(hostname, id string) Message {
	return Message{Type: DeleteRule, Hostname: hostname, RuleID: id}
}

func NewGetRules(hostname string) Message { return Message{Type: GetRules, Hostname: hostname} }

func NewGetAllRules() Message { return Message{Type: GetAllRules} }

func NewImportRules(data rule.Map) Message { return Message{Type: ImportRules, Data: data} }

func NewToggleDomain(hostname string, enabled bool) Message {
	return Message{Type: ToggleDomainEnabled, Hostname: hostname, Enabled: boolPtr(enabled)}
}

func NewRefreshContent(hostname string) Message {
	return Message{Type: RefreshContent, Hostname: hostname}
}
