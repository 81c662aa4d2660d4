package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/prowlkit/prowl/internal/scrape"
)

// LDExtractor pulls JSON-LD blocks out of page HTML and matches them
// against a requested schema type (Article, Product, ...). An empty schema
// accepts the first parseable block.
type LDExtractor struct{}

// NewStructured builds the JSON-LD extractor.
func NewStructured() *LDExtractor { return &LDExtractor{} }

// Common schema.org fields that signal a well-populated record.
var richFields = []string{"name", "headline", "description", "author", "datePublished", "image", "url", "offers"}

// Extract scans html for JSON-LD blocks of the requested schema.
func (e *LDExtractor) Extract(html []byte, schema string) (scrape.StructuredData, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return scrape.StructuredData{}, fmt.Errorf("parse html: %w", err)
	}

	var match map[string]any
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true // malformed block, keep scanning
		}
		for _, obj := range flattenLD(raw) {
			if schemaMatches(obj, schema) {
				match = obj
				return false
			}
		}
		return true
	})

	if match == nil {
		return scrape.StructuredData{}, fmt.Errorf("no %q json-ld block found", schema)
	}

	data := scrape.StructuredData{
		Schema: ldType(match),
		Fields: make(map[string]any, len(match)),
	}
	for k, v := range match {
		if strings.HasPrefix(k, "@") {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			data.Nested = append(data.Nested, map[string]any{k: v})
		default:
			data.Fields[k] = v
		}
	}
	data.QualityScore = scoreRecord(match)
	return data, nil
}

// flattenLD expands arrays and @graph containers into candidate objects.
func flattenLD(raw any) []map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			return flattenLD(graph)
		}
		return []map[string]any{v}
	case []any:
		var out []map[string]any
		for _, item := range v {
			out = append(out, flattenLD(item)...)
		}
		return out
	}
	return nil
}

func ldType(obj map[string]any) string {
	switch t := obj["@type"].(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func schemaMatches(obj map[string]any, schema string) bool {
	if schema == "" {
		return ldType(obj) != ""
	}
	return strings.EqualFold(ldType(obj), schema)
}

// scoreRecord rates a matched block by how many of the common schema.org
// fields it populates.
func scoreRecord(obj map[string]any) int {
	score := 20
	for _, f := range richFields {
		if v, ok := obj[f]; ok && v != nil && v != "" {
			score += 10
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

var _ scrape.StructuredExtractor = (*LDExtractor)(nil)
