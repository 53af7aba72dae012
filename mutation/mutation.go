// Package mutation defines the DOM change records that keep a mirrored page
// in sync with its source, and the cleaned snapshots emitted afterwards.
package mutation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Op is the kind of DOM change.
type Op string

const (
	OpInsert   Op = "insert"    // node added under XPath at Position
	OpRemove   Op = "remove"    // node at XPath removed
	OpText     Op = "text"      // character data at XPath changed
	OpAttr     Op = "attr"      // attribute Name set to Value
	OpAttrDel  Op = "attr_del"  // attribute Name removed
	OpDocReset Op = "doc_reset" // whole document replaced by HTML
)

// Record is one DOM change.
//
// For OpInsert, XPath addresses the parent and Position is the number of
// element siblings that precede the new node. HTML carries the serialized
// subtree of an element; Value carries the data of a text node.
type Record struct {
	Op       Op     `json:"op"`
	XPath    string `json:"xpath"`
	Position int    `json:"position,omitempty"`
	NodeType int    `json:"node_type,omitempty"` // 1=element, 3=text, 8=comment
	Tag      string `json:"tag,omitempty"`
	Name     string `json:"name,omitempty"`
	Value    string `json:"value,omitempty"`
	OldValue string `json:"old_value,omitempty"`
	HTML     string `json:"html,omitempty"`
}

// Batch groups the records collected in one debounce window.
type Batch struct {
	ID        string   `json:"id"`
	PageURL   string   `json:"page_url"`
	PageID    string   `json:"page_id"`
	Seq       uint64   `json:"seq"` // per page, gaps mean lost batches
	Records   []Record `json:"records"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds
}

// Snapshot is the serialized state of a page after rule enforcement.
type Snapshot struct {
	ID        string `json:"id"`
	PageURL   string `json:"page_url"`
	PageID    string `json:"page_id"`
	Hostname  string `json:"hostname"`
	HTML      []byte `json:"html"`
	HTMLHash  string `json:"html_hash"`
	Rules     int    `json:"rules"`   // enabled rules in effect
	Removed   int    `json:"removed"` // elements currently removed
	Enabled   bool   `json:"enabled"`
	Timestamp int64  `json:"timestamp"`
}

// HashHTML returns the SHA-256 hex digest of html.
func HashHTML(html []byte) string {
	h := sha256.Sum256(html)
	return hex.EncodeToString(h[:])
}

// DecodeBatch parses a JSON batch.
func DecodeBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("mutation: decode batch: %w", err)
	}
	return &b, nil
}

// DecodeSnapshot parses a JSON snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("mutation: decode snapshot: %w", err)
	}
	return &s, nil
}
