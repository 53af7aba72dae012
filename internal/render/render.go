// Package render turns cleaned snapshots into their output formats.
package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/zapelm/mutation"
)

// Format is a snapshot output format.
type Format string

const (
	HTML      Format = "html"
	Sanitized Format = "sanitized"
	Markdown  Format = "markdown"
)

// ErrUnknownFormat is returned for a format outside HTML, Sanitized and
// Markdown.
var ErrUnknownFormat = errors.New("render: unknown format")

// ParseFormat maps a name to a Format. The empty string means HTML.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return HTML, nil
	case HTML, Sanitized, Markdown:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType returns the MIME type of the rendered output.
func (f Format) ContentType() string {
	switch f {
	case Markdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/html; charset=utf-8"
	}
}

// Renderer converts snapshots. It is safe for concurrent use.
type Renderer struct {
	md     *converter.Converter
	policy *bluemonday.Policy
}

// New creates a Renderer with the UGC sanitizing policy and the commonmark
// and table markdown plugins.
func New() *Renderer {
	return &Renderer{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Render returns the snapshot's document in format f.
func (r *Renderer) Render(s *mutation.Snapshot, f Format) ([]byte, error) {
	switch f {
	case HTML, "":
		return s.HTML, nil
	case Sanitized:
		return r.policy.SanitizeBytes(s.HTML), nil
	case Markdown:
		var opts []converter.ConvertOptionFunc
		if s.PageURL != "" {
			opts = append(opts, converter.WithDomain(s.PageURL))
		}
		out, err := r.md.ConvertString(string(s.HTML), opts...)
		if err != nil {
			return nil, fmt.Errorf("render: markdown: %w", err)
		}
		return []byte(strings.TrimSpace(out) + "\n"), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}
