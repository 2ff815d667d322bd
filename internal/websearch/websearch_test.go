package websearch

import (
	"errors"
	"strings"
	"testing"
)

// #region format_tests

func TestFormatAsEvidence_MultipleResults(t *testing.T) {
	results := []Result{
		{Title: "Title A", Snippet: "Snippet A", URL: "https://a.com"},
		{Title: "Title B", Snippet: "Snippet B", URL: "https://b.com"},
	}
	out := FormatAsEvidence(results)
	if out == "" {
		t.Fatal("expected non-empty output")
	}
	for _, want := range []string{"[Web Search Results]", "1. Title A", "2. Title B", "Source: https://a.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestFormatAsEvidence_Empty(t *testing.T) {
	out := FormatAsEvidence(nil)
	if out != "" {
		t.Errorf("expected empty string for nil results, got %q", out)
	}
}

func TestFormatAsEvidence_NoURL(t *testing.T) {
	results := []Result{{Title: "T", Snippet: "S", URL: ""}}
	out := FormatAsEvidence(results)
	if strings.Contains(out, "Source:") {
		t.Error("should not include Source line when URL is empty")
	}
}

// #endregion format_tests

// #region parse_tests

func TestParse_ArrayAndObject(t *testing.T) {
	arr, err := Parse(`[{"title":"A","url":"https://a.com"}]`)
	if err != nil {
		t.Fatalf("Parse array: %v", err)
	}
	if len(arr) != 1 || arr[0].URL != "https://a.com" {
		t.Errorf("unexpected array results: %+v", arr)
	}

	obj, err := Parse(`{"results":[{"title":"A"},{"title":"B"}]}`)
	if err != nil {
		t.Fatalf("Parse object: %v", err)
	}
	if len(obj) != 2 {
		t.Errorf("expected 2 results, got %d", len(obj))
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse(""); !errors.Is(err, ErrNoResults) {
		t.Errorf("expected ErrNoResults for empty output, got %v", err)
	}
	if _, err := Parse(`{"status":"ok"}`); !errors.Is(err, ErrNoResults) {
		t.Errorf("expected ErrNoResults without results key, got %v", err)
	}
	if _, err := Parse("plain text"); err == nil {
		t.Error("expected error for non-JSON output")
	}
}

func TestShape_TruncatesAndDropsUntitled(t *testing.T) {
	out, ok := Shape(`[{"title":"A"},{"title":""},{"title":"B"},{"title":"C"},{"title":"D"}]`, Config{MaxResults: 2})
	if !ok {
		t.Fatal("expected ok")
	}
	if !strings.Contains(out, "2. B") || strings.Contains(out, "3.") {
		t.Errorf("unexpected shaped output:\n%s", out)
	}
}

func TestShape_PassThrough(t *testing.T) {
	if _, ok := Shape("not json", DefaultConfig()); ok {
		t.Error("expected non-JSON output to pass through")
	}
	out, ok := Shape(`[]`, DefaultConfig())
	if !ok || !strings.Contains(out, "no results") {
		t.Errorf("expected empty list to format as no results, got %q", out)
	}
}

// #endregion parse_tests

// #region config_tests

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxResults != 3 {
		t.Errorf("expected MaxResults=3, got %d", cfg.MaxResults)
	}
	if !cfg.Enabled {
		t.Error("expected Enabled=true by default")
	}
}

// #endregion config_tests
