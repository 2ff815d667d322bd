// Package websearch shapes web_search action output into evidence the
// planner and critic can read.
package websearch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// #region types

// Result holds a single search result.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Config holds web search parameters.
type Config struct {
	Enabled    bool `yaml:"enabled"`     // false refuses web_search without calling the sandbox
	MaxResults int  `yaml:"max_results"` // results kept per call, <= 0 keeps all
}

// #endregion types

// #region config

// DefaultConfig returns default web search configuration.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxResults: 3}
}

// #endregion config

// #region parse

// ErrNoResults is returned when the output holds no result list.
var ErrNoResults = errors.New("websearch: no results in output")

// Parse reads sandbox output, either a bare JSON array of results or an
// object with a "results" array.
func Parse(output string) ([]Result, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, ErrNoResults
	}
	var list []Result
	if strings.HasPrefix(output, "[") {
		if err := json.Unmarshal([]byte(output), &list); err != nil {
			return nil, fmt.Errorf("parse results: %w", err)
		}
		return list, nil
	}
	var wrapped struct {
		Results []Result `json:"results"`
	}
	if err := json.Unmarshal([]byte(output), &wrapped); err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	if wrapped.Results == nil {
		return nil, ErrNoResults
	}
	return wrapped.Results, nil
}

// Shape parses output, drops untitled results, truncates to MaxResults and
// formats the rest. ok is false when output is not a result list, in which
// case it should be passed through unchanged.
func Shape(output string, cfg Config) (string, bool) {
	results, err := Parse(output)
	if err != nil {
		return "", false
	}
	kept := results[:0]
	for _, r := range results {
		if strings.TrimSpace(r.Title) == "" {
			continue
		}
		kept = append(kept, r)
	}
	if cfg.MaxResults > 0 && len(kept) > cfg.MaxResults {
		kept = kept[:cfg.MaxResults]
	}
	if len(kept) == 0 {
		return "[Web Search Results]\n(no results)\n", true
	}
	return FormatAsEvidence(kept), true
}

// #endregion parse

// #region format

// FormatAsEvidence converts search results to a string suitable for injection
// alongside retrieved evidence.
func FormatAsEvidence(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("[Web Search Results]\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
		if r.URL != "" {
			fmt.Fprintf(&b, "   Source: %s\n", r.URL)
		}
	}
	return b.String()
}

// #endregion format
