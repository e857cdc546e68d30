package complexity

import (
	"strings"
)

const baseScore = 35

// Tier names double as fallback-chain states in the inference package.
const (
	TierSimple   = "simple"
	TierStandard = "standard"
	TierAdvanced = "advanced"
)

type Result struct {
	Score   int
	Factors []string
}

type queryView struct {
	lower  string
	tokens []string
}

// rule is a single scoring heuristic: a pure function from the query view to
// a score delta and the factor labels it contributes. Rules run in a fixed
// order so that analysis is deterministic and each rule testable on its own.
type rule func(q queryView) (int, []string)

var rules = []rule{
	wordCountRule,
	analyticalRule,
	factualRule,
	technicalRule,
	codeRule,
	multiPartRule,
	contextDependencyRule,
}

// Analyze scores a query 0-100 from lexical and structural heuristics.
func Analyze(query string) Result {
	q := queryView{
		lower:  strings.ToLower(query),
		tokens: tokenize(query),
	}

	score := baseScore
	var factors []string

	for _, r := range rules {
		delta, labels := r(q)
		score += delta
		factors = append(factors, labels...)
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Result{Score: score, Factors: factors}
}

// SelectTier maps a complexity score and conversation depth to a tier name.
// Long conversations force the advanced tier above a minimum score so that
// context fidelity is not lost to a cheaper model.
func SelectTier(score, historyLength int) string {
	if historyLength > 5 && score > 40 {
		return TierAdvanced
	}

	switch {
	case score >= 61:
		return TierAdvanced
	case score >= 31:
		return TierStandard
	default:
		return TierSimple
	}
}

func wordCountRule(q queryView) (int, []string) {
	n := len(q.tokens)
	if n > 50 {
		return 15, []string{"long"}
	}
	if n < 10 {
		return 0, []string{"short"}
	}
	return 0, nil
}

func analyticalRule(q queryView) (int, []string) {
	comparison := []string{"versus", "vs", "difference", "differences"}
	for _, w := range comparison {
		if hasToken(q.tokens, w) {
			return 15, []string{"comparison"}
		}
	}

	analytical := []string{"why", "how", "explain", "describe", "compare"}
	for _, w := range analytical {
		if hasTokenPrefix(q.tokens, w) {
			return 10, []string{"analytical"}
		}
	}

	return 0, nil
}

func factualRule(q queryView) (int, []string) {
	if strings.Contains(q.lower, "what is") ||
		hasToken(q.tokens, "when") ||
		hasToken(q.tokens, "where") ||
		hasToken(q.tokens, "who") {
		return -5, []string{"factual"}
	}
	return 0, nil
}

func technicalRule(q queryView) (int, []string) {
	terms := []string{"architecture", "implementation", "algorithm", "optimization"}
	for _, t := range terms {
		if strings.Contains(q.lower, t) {
			return 15, []string{"technical"}
		}
	}
	return 0, nil
}

func codeRule(q queryView) (int, []string) {
	terms := []string{"function", "class", "api"}
	for _, t := range terms {
		if hasToken(q.tokens, t) || hasToken(q.tokens, t+"s") {
			return 10, []string{"code"}
		}
	}
	return 0, nil
}

func multiPartRule(q queryView) (int, []string) {
	if strings.Count(q.lower, "?") > 1 || strings.Contains(q.lower, " and ") {
		return 10, []string{"multi_part"}
	}
	return 0, nil
}

func contextDependencyRule(q queryView) (int, []string) {
	if strings.Contains(q.lower, "based on") || strings.Contains(q.lower, "given that") {
		return 10, []string{"contextual"}
	}
	return 0, nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

func hasToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if t == want {
			return true
		}
	}
	return false
}

// hasTokenPrefix matches inflections such as "compares" or "explaining".
func hasTokenPrefix(tokens []string, prefix string) bool {
	for _, t := range tokens {
		if t == prefix {
			return true
		}
		if len(t) > len(prefix) && strings.HasPrefix(t, prefix) && len(t)-len(prefix) <= 3 {
			return true
		}
	}
	return false
}
