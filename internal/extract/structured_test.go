package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleLD = `<html><head>
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@type": "Article",
  "headline": "Widget prices fall",
  "description": "Prices dropped across the board.",
  "datePublished": "2025-06-01",
  "author": {"@type": "Person", "name": "A. Writer"}
}
</script>
</head><body></body></html>`

const graphLD = `<html><head>
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@graph": [
    {"@type": "WebSite", "name": "Example"},
    {"@type": "Product", "name": "Widget", "offers": {"price": "9.99"}}
  ]
}
</script>
</head><body></body></html>`

func TestStructuredExtractArticle(t *testing.T) {
	data, err := NewStructured().Extract([]byte(articleLD), "Article")
	require.NoError(t, err)

	assert.Equal(t, "Article", data.Schema)
	assert.Equal(t, "Widget prices fall", data.Fields["headline"])
	assert.Equal(t, "Prices dropped across the board.", data.Fields["description"])
	assert.NotContains(t, data.Fields, "@context")
	require.Len(t, data.Nested, 1, "author object lands in nested structures")
	assert.Greater(t, data.QualityScore, 20)
}

func TestStructuredExtractFromGraph(t *testing.T) {
	data, err := NewStructured().Extract([]byte(graphLD), "product")
	require.NoError(t, err)

	assert.Equal(t, "Product", data.Schema, "schema match is case-insensitive")
	assert.Equal(t, "Widget", data.Fields["name"])
}

func TestStructuredExtractAnySchema(t *testing.T) {
	data, err := NewStructured().Extract([]byte(graphLD), "")
	require.NoError(t, err)
	assert.Equal(t, "WebSite", data.Schema, "first typed block wins when no schema is requested")
}

func TestStructuredExtractNoMatch(t *testing.T) {
	_, err := NewStructured().Extract([]byte(articleLD), "Recipe")
	assert.Error(t, err)

	_, err = NewStructured().Extract([]byte(`<html><body><p>no ld</p></body></html>`), "Article")
	assert.Error(t, err)
}

func TestStructuredExtractSkipsMalformedBlocks(t *testing.T) {
	html := `<html><head>
<script type="application/ld+json">{not json</script>
<script type="application/ld+json">{"@type": "Article", "headline": "ok"}</script>
</head><body></body></html>`

	data, err := NewStructured().Extract([]byte(html), "Article")
	require.NoError(t, err)
	assert.Equal(t, "ok", data.Fields["headline"])
}
