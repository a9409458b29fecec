package search

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/docutag/writer/llm"
	"github.com/docutag/writer/models"
)

// rawSource accepts the field names models commonly use for a source entry
type rawSource struct {
	URL         string `json:"url"`
	Link        string `json:"link"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	Description string `json:"description"`
}

func (r rawSource) toRef() (models.SourceRef, bool) {
	link := strings.TrimSpace(r.URL)
	if link == "" {
		link = strings.TrimSpace(r.Link)
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.SourceRef{}, false
	}

	snippet := strings.TrimSpace(r.Snippet)
	if snippet == "" {
		snippet = strings.TrimSpace(r.Description)
	}
	return models.SourceRef{
		URL:     link,
		Title:   strings.TrimSpace(r.Title),
		Snippet: snippet,
	}, true
}

// ParseSourceList extracts source entries from a model reply. The reply
// should be a JSON array; when it is not, the outermost bracketed span is
// tried and then every object that decodes on its own is recovered.
// Entries without an http(s) URL are dropped.
func ParseSourceList(resp string) []models.SourceRef {
	resp = llm.StripCodeFence(resp)
	if resp == "" {
		return nil
	}

	var entries []rawSource
	if err := json.Unmarshal([]byte(resp), &entries); err != nil {
		entries = nil
		start, end := strings.IndexByte(resp, '['), strings.LastIndexByte(resp, ']')
		if start == -1 || end <= start || json.Unmarshal([]byte(resp[start:end+1]), &entries) != nil {
			entries = scanObjects(resp)
		}
	}

	sources := make([]models.SourceRef, 0, len(entries))
	for _, e := range entries {
		if ref, ok := e.toRef(); ok {
			sources = append(sources, ref)
		}
	}
	return sources
}

// scanObjects decodes every standalone JSON object in s that carries a URL.
// Truncated or malformed objects are skipped.
func scanObjects(s string) []rawSource {
	var entries []rawSource
	for i := 0; i < len(s); {
		idx := strings.IndexByte(s[i:], '{')
		if idx == -1 {
			break
		}
		start := i + idx

		dec := json.NewDecoder(strings.NewReader(s[start:]))
		var entry rawSource
		if err := dec.Decode(&entry); err != nil || (entry.URL == "" && entry.Link == "") {
			i = start + 1
			continue
		}
		entries = append(entries, entry)
		i = start + int(dec.InputOffset())
	}
	return entries
}
