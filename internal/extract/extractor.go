// Package extract turns raw HTML into the engine's content representation:
// title and metadata, cleaned text, a markdown rendition, classified links,
// images, and headings.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/prowlkit/prowl/internal/scrape"
)

// Selectors tried in order for the main content region.
const contentSelector = "main, article, .content, .main-content, #content, #main"

// Extractor implements scrape.ContentExtractor with goquery parsing and an
// html-to-markdown rendition of the main content region.
type Extractor struct{}

// New builds the default extractor.
func New() *Extractor { return &Extractor{} }

// Extract parses html and returns the structured content for pageURL.
// Links are resolved against the page URL and split into internal and
// external by the crawl domain.
func (e *Extractor) Extract(html []byte, pageURL, domain string) (scrape.Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return scrape.Content{}, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return scrape.Content{}, fmt.Errorf("parse page url: %w", err)
	}

	content := scrape.Content{
		URL:         pageURL,
		Title:       extractTitle(doc),
		Description: extractDescription(doc),
	}

	content.InternalLinks, content.ExternalLinks = extractLinks(doc, base, domain)
	content.Images = extractImages(doc, base)

	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			content.Headings = append(content.Headings, text)
		}
	})

	// Strip chrome before reading text so navigation labels and script
	// bodies do not inflate the word count.
	doc.Find("script, style, noscript, nav, footer, aside").Remove()

	region := doc.Find(contentSelector).First()
	if region.Length() == 0 {
		region = doc.Find("body")
	}
	content.TextContent = collapseWhitespace(region.Text())
	content.WordCount = len(strings.Fields(content.TextContent))

	if regionHTML, err := region.Html(); err == nil {
		converter := md.NewConverter(base.Host, true, nil)
		if markdown, err := converter.ConvertString(regionHTML); err == nil {
			content.MarkdownContent = strings.TrimSpace(markdown)
		}
	}

	content.QualityScore = scrape.ScoreContent(content)
	return content, nil
}

func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func extractDescription(doc *goquery.Document) string {
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && strings.TrimSpace(desc) != "" {
		return strings.TrimSpace(desc)
	}
	if og, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
		return strings.TrimSpace(og)
	}
	return ""
}

func extractLinks(doc *goquery.Document, base *url.URL, domain string) (internal, external []scrape.Link) {
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""
		abs := resolved.String()
		if !scrape.Crawlable(abs) {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}

		link := scrape.Link{URL: abs, Text: collapseWhitespace(s.Text())}
		if scrape.SameSite(domain, abs) {
			internal = append(internal, link)
		} else {
			external = append(external, link)
		}
	})
	return internal, external
}

func extractImages(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var images []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		resolved, err := base.Parse(src)
		if err != nil {
			return
		}
		abs := resolved.String()
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		images = append(images, abs)
	})
	return images
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var _ scrape.ContentExtractor = (*Extractor)(nil)
