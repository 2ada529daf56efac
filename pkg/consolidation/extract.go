package consolidation

import (
	"regexp"
	"strings"

	"github.com/modernmethod/ethos/pkg/ethos"
)

const statementMaxLen = 200

// triggerLexicon is the fixed set of case-insensitive substrings that make
// an episode a consolidation candidate even without crossing the
// importance/retrieval thresholds.
var triggerLexicon = []string{
	// decisions
	"decided", "let's go with", "we'll use", "the plan is", "going with",
	// preferences
	"prefer", "love", "hate", "always", "never", "favorite",
	// explicit markers
	"remember this", "note that", "important:",
}

// MatchesTrigger reports whether content contains any trigger-lexicon
// phrase, case-insensitively.
func MatchesTrigger(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range triggerLexicon {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

var (
	decisionPattern   = regexp.MustCompile(`(?i)\b(decided|let's go with|we'll use|the plan is|going with)\b`)
	properNounPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*\b`)

	preferencePattern = regexp.MustCompile(`(?i)\b(prefers?|loves?|hates?|always|never|favorite)\b`)

	explicitMarkerPattern = regexp.MustCompile(`(?i)(remember this|note that|important:)\s*(.*)`)
)

// ExtractedFact is a candidate fact pulled from one episode's content,
// before conflict resolution decides whether it is created, merged, or
// flagged.
type ExtractedFact struct {
	Kind       ethos.FactKind
	Statement  string
	Subject    string
	Predicate  string
	Object     string
	Confidence float64
}

// extractor is a single stage in the priority chain; it returns ok=false
// when its pattern doesn't match the content.
type extractor func(content string, importance float64) (ExtractedFact, bool)

// extractionChain is tried in priority order: decision, preference,
// explicit marker, then the importance-gated fallback.
var extractionChain = []extractor{
	extractDecision,
	extractPreference,
	extractExplicitMarker,
	extractFallback,
}

// ExtractFact runs the priority chain against one episode's content. It
// returns ok=false when no stage matched (including the fallback, which
// requires importance >= 0.8).
func ExtractFact(content string, importance float64) (ExtractedFact, bool) {
	for _, stage := range extractionChain {
		if fact, ok := stage(content, importance); ok {
			fact.Statement = truncate(fact.Statement, statementMaxLen)
			return fact, true
		}
	}
	return ExtractedFact{}, false
}

func extractDecision(content string, _ float64) (ExtractedFact, bool) {
	if !decisionPattern.MatchString(content) {
		return ExtractedFact{}, false
	}
	subject := "team"
	if m := properNounPattern.FindString(content); m != "" {
		subject = m
	}
	predicate := "plan"
	if strings.Contains(strings.ToLower(content), "use") {
		predicate = "uses"
	}
	return ExtractedFact{
		Kind: ethos.KindDecision, Statement: content,
		Subject: subject, Predicate: predicate, Object: content,
		Confidence: 0.90,
	}, true
}

func extractPreference(content string, _ float64) (ExtractedFact, bool) {
	match := preferencePattern.FindString(content)
	if match == "" {
		return ExtractedFact{}, false
	}
	predicate := strings.ToLower(match)
	switch predicate {
	case "loves", "love":
		predicate = "loves"
	case "hates", "hate":
		predicate = "hates"
	case "prefers", "prefer":
		predicate = "prefers"
	}
	subject := "the user"
	if m := properNounPattern.FindString(content); m != "" {
		subject = m
	}
	return ExtractedFact{
		Kind: ethos.KindPreference, Statement: content,
		Subject: subject, Predicate: predicate, Object: content,
		Confidence: 0.80,
	}, true
}

func extractExplicitMarker(content string, _ float64) (ExtractedFact, bool) {
	m := explicitMarkerPattern.FindStringSubmatch(content)
	if m == nil {
		return ExtractedFact{}, false
	}
	object := strings.TrimSpace(m[2])
	if object == "" {
		object = content
	}
	subject := "team"
	if sm := properNounPattern.FindString(object); sm != "" {
		subject = sm
	}
	return ExtractedFact{
		Kind: ethos.KindFact, Statement: content,
		Subject: subject, Predicate: "is", Object: object,
		Confidence: 0.85,
	}, true
}

func extractFallback(content string, importance float64) (ExtractedFact, bool) {
	if importance < 0.8 {
		return ExtractedFact{}, false
	}
	return ExtractedFact{
		Kind: ethos.KindFact, Statement: content,
		Subject: "team", Predicate: "contains", Object: truncate(content, 50) + "...",
		Confidence: 0.70,
	}, true
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
