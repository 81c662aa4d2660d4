package scrape

// ScoreContent rates extracted content 0-100 from simple structural
// signals: word count, title/description presence, link and image counts,
// and heading structure.
func ScoreContent(c Content) int {
	score := 0

	switch {
	case c.WordCount >= 1000:
		score += 40
	case c.WordCount >= 300:
		score += 30
	case c.WordCount >= 100:
		score += 20
	case c.WordCount > 0:
		score += 10
	}

	if c.Title != "" {
		score += 15
	}
	if c.Description != "" {
		score += 10
	}

	links := len(c.InternalLinks) + len(c.ExternalLinks)
	switch {
	case links >= 10:
		score += 10
	case links > 0:
		score += 5
	}

	if len(c.Images) > 0 {
		score += 5
	}

	switch {
	case len(c.Headings) >= 3:
		score += 20
	case len(c.Headings) > 0:
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

// MergeContent combines a lightweight and a rendered extraction of the same
// page. The fetch with more words supplies the text; links and images are
// unioned with dedup by URL/text.
func MergeContent(a, b Content) Content {
	primary, secondary := a, b
	if b.WordCount > a.WordCount {
		primary, secondary = b, a
	}

	merged := primary
	if merged.Title == "" {
		merged.Title = secondary.Title
	}
	if merged.Description == "" {
		merged.Description = secondary.Description
	}
	merged.InternalLinks = unionLinks(primary.InternalLinks, secondary.InternalLinks)
	merged.ExternalLinks = unionLinks(primary.ExternalLinks, secondary.ExternalLinks)
	merged.Images = unionStrings(primary.Images, secondary.Images)
	merged.Headings = unionStrings(primary.Headings, secondary.Headings)
	merged.QualityScore = ScoreContent(merged)
	return merged
}

func unionLinks(a, b []Link) []Link {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]Link, 0, len(a)+len(b))
	for _, set := range [][]Link{a, b} {
		for _, l := range set {
			key := l.URL + "\x00" + l.Text
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, l)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, set := range [][]string{a, b} {
		for _, s := range set {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
