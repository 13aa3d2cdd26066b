package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

const (
	topLanguagesLimit = 5
	topTagsLimit      = 10
)

type LanguageCount struct {
	Language string `json:"language"`
	Count    int    `json:"count"`
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

type Stats struct {
	TotalSnippets int             `json:"totalSnippets"`
	TopLanguages  []LanguageCount `json:"topLanguages"`
	TopTags       []TagCount      `json:"topTags"`
}

// Stats counts the owner's snippets by language and tag in one pass over
// every snippet. Equal counts keep the order in which a value was first seen
// (snippets are visited oldest first).
func (s *SnippetService) Stats(ctx context.Context, ownerID string) (*Stats, error) {
	facets, err := s.repo.Facets(ctx, ownerID)
	if err != nil {
		s.logger.Error("failed to load snippet facets",
			slog.String("userID", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("computing stats: %w", err)
	}

	languages := newCounter()
	tags := newCounter()
	for _, f := range facets {
		languages.add(f.Language)
		for _, t := range f.Tags {
			tags.add(t)
		}
	}

	stats := &Stats{
		TotalSnippets: len(facets),
		TopLanguages:  make([]LanguageCount, 0, topLanguagesLimit),
		TopTags:       make([]TagCount, 0, topTagsLimit),
	}
	for _, e := range languages.top(topLanguagesLimit) {
		stats.TopLanguages = append(stats.TopLanguages, LanguageCount{Language: e.key, Count: e.count})
	}
	for _, e := range tags.top(topTagsLimit) {
		stats.TopTags = append(stats.TopTags, TagCount{Tag: e.key, Count: e.count})
	}
	return stats, nil
}

type countEntry struct {
	key   string
	count int
}

// counter is a frequency table that remembers first-seen order.
type counter struct {
	index   map[string]int
	entries []countEntry
}

func newCounter() *counter {
	return &counter{index: make(map[string]int)}
}

func (c *counter) add(key string) {
	if i, ok := c.index[key]; ok {
		c.entries[i].count++
		return
	}
	c.index[key] = len(c.entries)
	c.entries = append(c.entries, countEntry{key: key, count: 1})
}

// top returns at most n entries, highest count first. The stable sort keeps
// first-seen order among ties.
func (c *counter) top(n int) []countEntry {
	sorted := append([]countEntry(nil), c.entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].count > sorted[j].count
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
