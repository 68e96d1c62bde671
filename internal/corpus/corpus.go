// Package corpus defines the documents and queries the evaluation pipeline
// works on.
package corpus

import (
	"fmt"
	"strings"
)

// Document is a read-only unit of the evaluated collection.
type Document struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Passages []string `json:"passages,omitempty"`
	Authors  []string `json:"authors,omitempty"`
}

// Validate checks that the document can be used to synthesize a query.
func (d Document) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("document id is empty")
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("document %s: title is empty", d.ID)
	}
	if strings.TrimSpace(d.Body) == "" {
		return fmt.Errorf("document %s: body is empty", d.ID)
	}
	return nil
}

// Segments returns the document passages, falling back to the whole body.
func (d Document) Segments() []string {
	if len(d.Passages) > 0 {
		return d.Passages
	}
	return []string{d.Body}
}

// Origin records where a query came from.
type Origin string

const (
	OriginHuman     Origin = "human_authored"
	OriginSynthetic Origin = "synthetic"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OriginHuman, OriginSynthetic:
		return true
	default:
		return false
	}
}

// Query is a search query. SourceID is set for synthetic queries.
type Query struct {
	Text     string `json:"text"`
	Origin   Origin `json:"origin"`
	SourceID string `json:"source_id,omitempty"`
}

// HumanQuery returns a human-authored query.
func HumanQuery(text string) Query {
	return Query{Text: text, Origin: OriginHuman}
}

// Record is the line format of document files: a document plus the query
// written for it, if any.
type Record struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Authors []string `json:"authors,omitempty"`
	Query   string   `json:"query,omitempty"`
	Origin  Origin   `json:"origin,omitempty"`
}

// NewRecord pairs a document with its query.
func NewRecord(d Document, q Query) Record {
	return Record{
		ID:      d.ID,
		Title:   d.Title,
		Body:    d.Body,
		Authors: d.Authors,
		Query:   q.Text,
		Origin:  q.Origin,
	}
}

// Document returns the record's document.
func (r Record) Document() Document {
	return Document{ID: r.ID, Title: r.Title, Body: r.Body, Authors: r.Authors}
}

// ToQuery returns the record's query, or nil when it has none. Records
// without an origin are assumed human-authored.
func (r Record) ToQuery() *Query {
	if strings.TrimSpace(r.Query) == "" {
		return nil
	}
	origin := r.Origin
	if origin == "" {
		origin = OriginHuman
	}
	q := Query{Text: r.Query, Origin: origin}
	if origin == OriginSynthetic {
		q.SourceID = r.ID
	}
	return &q
}
