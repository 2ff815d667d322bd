package critic

// #region imports
import (
	"context"
	"strings"
	"unicode"
)

// #endregion

// #region refusal-patterns

var refusalPatterns = []string{
	"access denied",
	"permission denied",
	"not authorized",
	"unauthorized",
	"forbidden",
	"rate limit exceeded",
	"service unavailable",
	"internal server error",
	"no such file",
	"not found",
}

// #endregion

// #region heuristic

// Heuristic reviews results via string analysis. No model call, never errors.
type Heuristic struct{}

// Review flags failed, empty, degenerate, or error-page results.
func (Heuristic) Review(_ context.Context, c Check) (Verdict, error) {
	trimmed := strings.TrimSpace(c.Output)
	lower := strings.ToLower(trimmed)

	switch {
	case c.Status != "" && c.Status != "ok":
		issue := "action failed"
		if c.Error != "" {
			issue += ": " + c.Error
		}
		return Verdict{Issue: issue, Confidence: 0.9}, nil
	case len(strings.TrimFunc(trimmed, unicode.IsSpace)) == 0:
		return Verdict{Issue: "empty output", Confidence: 0.6}, nil
	case hasRepetition(lower):
		return Verdict{Issue: "repetitive output", Confidence: 0.5}, nil
	}

	// error page returned as a successful result; short bodies only
	if len(strings.Fields(trimmed)) < 30 {
		for _, p := range refusalPatterns {
			if strings.Contains(lower, p) {
				return Verdict{Issue: "output looks like an error: " + p, Confidence: 0.5}, nil
			}
		}
	}
	return Verdict{Confidence: 1}, nil
}

// #endregion

// #region repetition-check

func hasRepetition(lower string) bool {
	// 3+ identical lines or sentences
	parts := strings.FieldsFunc(lower, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	if len(parts) < 3 {
		return false
	}
	counts := make(map[string]int)
	for _, s := range parts {
		trimmed := strings.TrimSpace(s)
		if len(trimmed) > 10 {
			counts[trimmed]++
		}
	}
	for _, c := range counts {
		if c >= 3 {
			return true
		}
	}
	return false
}

// #endregion
