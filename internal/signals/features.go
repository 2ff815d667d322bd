package signals

import (
	"regexp"
	"strings"
	"unicode"
)

// #region stopwords
// stopwords are function words that carry no topical content.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "be": true, "been": true,
	"being": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "shall": true, "not": true,
	"no": true, "and": true, "or": true, "but": true, "if": true,
	"then": true, "than": true, "so": true, "as": true, "at": true,
	"by": true, "for": true, "from": true, "in": true, "into": true,
	"of": true, "on": true, "to": true, "with": true, "about": true,
	"up": true, "out": true, "it": true, "its": true, "this": true,
	"that": true, "what": true, "which": true, "who": true, "how": true,
	"when": true, "where": true, "why": true, "you": true, "me": true,
	"i": true, "my": true, "your": true, "we": true, "they": true,
	"he": true, "she": true, "her": true, "him": true, "us": true,
	"them": true, "tell": true, "just": true, "like": true, "there": true,
}

// words splits text into lowercase letter/digit runs.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Tokens returns the unique non-stopword tokens of text.
func Tokens(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range words(text) {
		if len(w) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// informationDensity is the share of content words among all words.
func informationDensity(ws []string) float64 {
	if len(ws) == 0 {
		return 0
	}
	content := 0
	for _, w := range ws {
		if len(w) >= 2 && !stopwords[w] {
			content++
		}
	}
	return float64(content) / float64(len(ws))
}

// #endregion stopwords

// #region patterns
var (
	greetingRe = regexp.MustCompile(`^(hi|hello|hey|yo|hiya|howdy|good (morning|afternoon|evening)|greetings)\b`)
	ackRe      = regexp.MustCompile(`^((ok(ay)?|k|thanks|thank you|thx|cool|great|got it|sounds good|nice|perfect|sure|alright|yep|yes|no worries)[.,! ]*)+$`)
	positiveRe = regexp.MustCompile(`\b(thanks|thank you|perfect|exactly|that worked|great job|well done|that's right|spot on)\b`)
	negativeRe = regexp.MustCompile(`\b(wrong|incorrect|that's not|not what i|no,? i meant|i said|you misunderstood|doesn't work|didn't work)\b`)
	implicitRe = regexp.MustCompile(`\b(it|that|this|those|these|the (one|thing|same)|like before|as before|again|earlier|last time|you said|we discussed)\b`)
	interrogRe = regexp.MustCompile(`^(who|what|when|where|why|how|which|is|are|can|could|would|should|do|does|did|will|have|has)\b`)
)

// commandPrefixes mark direct requests to act on the world.
var commandPrefixes = []string{
	"list ", "read ", "write ", "search for ", "search ", "find ", "look up ",
	"open ", "create ", "delete ", "remove ", "save ", "run ", "fetch ",
	"schedule ", "send ", "check ", "update ", "set ", "remind me",
	"please run", "please check", "can you run", "can you check",
}

// imperativeVerbs are single-word commands that count when the prompt is short.
var imperativeVerbs = map[string]bool{
	"list": true, "read": true, "show": true, "run": true, "write": true,
	"save": true, "stop": true, "start": true, "clear": true, "reset": true,
	"check": true, "find": true, "fetch": true, "search": true, "open": true,
}

// #endregion patterns

// #region features
// textFeatures are the purely lexical signals of one message.
type textFeatures struct {
	empty         bool
	tokens        int
	question      bool
	greeting      bool
	ack           bool
	feedback      Feedback
	density       float64
	implicit      bool
	imperative    bool
	interrogative bool
}

func extractText(text string, cfg CollectorConfig) textFeatures {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	ws := words(lower)

	f := textFeatures{
		empty:    len(ws) == 0,
		tokens:   len(ws),
		question: strings.Contains(trimmed, "?"),
		density:  informationDensity(ws),
		feedback: FeedbackAbsent,
	}
	if f.empty {
		return f
	}

	f.greeting = greetingRe.MatchString(lower)
	f.ack = f.tokens <= cfg.ShortInputTokens && ackRe.MatchString(lower)
	switch {
	case negativeRe.MatchString(lower):
		f.feedback = FeedbackNegative
	case positiveRe.MatchString(lower):
		f.feedback = FeedbackPositive
	}
	f.implicit = implicitRe.MatchString(lower)
	f.imperative = isImperative(lower, ws)
	f.interrogative = interrogRe.MatchString(lower)
	return f
}

// isImperative reports a direct command: a known command prefix, or a short
// prompt that opens with an imperative verb and asks nothing.
func isImperative(lower string, ws []string) bool {
	for _, p := range commandPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	if strings.Contains(lower, "?") {
		return false
	}
	return len(ws) >= 1 && len(ws) <= 3 && imperativeVerbs[ws[0]]
}

// #endregion features
