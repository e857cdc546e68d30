package quality

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/knowledge-assistant/backend/internal/retrieval"
)

// Scores holds the six dimension scores plus the weighted overall. All values
// are in [0, 1].
type Scores struct {
	Relevance    float64 `json:"relevance"`
	Coherence    float64 `json:"coherence"`
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Conciseness  float64 `json:"conciseness"`
	Groundedness float64 `json:"groundedness"`
	Overall      float64 `json:"overall"`
}

var wordPattern = regexp.MustCompile(`\w+`)

var transitions = []string{
	"however", "therefore", "additionally", "furthermore",
	"moreover", "consequently", "thus", "hence", "for example",
}

var groundedPhrases = []string{"according to", "based on", "as mentioned", "the document"}

var examplePhrases = []string{"for example", "for instance", "such as", "like"}

// questionIndicators maps a question word to response terms that suggest the
// question type was actually addressed.
var questionIndicators = map[string][]string{
	"what":  {"is", "are", "definition", "means"},
	"how":   {"by", "through", "steps", "process"},
	"why":   {"because", "due to", "reason", "since"},
	"when":  {"time", "date", "during", "after", "before"},
	"where": {"location", "place", "at", "in"},
	"who":   {"person", "people", "individual", "organization"},
}

// Evaluate scores a response across six heuristic dimensions. The scorers are
// deterministic and make no external calls, so evaluation adds no latency
// risk to the request path.
func Evaluate(query, response string, chunks []retrieval.RankedChunk) Scores {
	s := Scores{
		Relevance:    relevanceScore(query, response, chunks),
		Coherence:    coherenceScore(response),
		Completeness: completenessScore(query, response),
		Accuracy:     accuracyScore(chunks),
		Conciseness:  concisenessScore(response),
		Groundedness: groundednessScore(response, chunks),
	}
	s.Overall = overallScore(s)
	return s
}

func overallScore(s Scores) float64 {
	return s.Relevance*0.25 +
		s.Coherence*0.15 +
		s.Completeness*0.20 +
		s.Accuracy*0.20 +
		s.Conciseness*0.10 +
		s.Groundedness*0.10
}

// relevanceScore blends query/response keyword overlap with the average
// retrieval score of the context chunks.
func relevanceScore(query, response string, chunks []retrieval.RankedChunk) float64 {
	queryKeywords := keywords(query, 3)
	if len(queryKeywords) == 0 {
		return 0.5
	}
	responseKeywords := keywords(response, 0)

	matched := 0
	for w := range queryKeywords {
		if _, ok := responseKeywords[w]; ok {
			matched++
		}
	}
	overlap := float64(matched) / float64(len(queryKeywords))

	score := overlap
	if len(chunks) > 0 {
		score = overlap*0.6 + avgChunkScore(chunks)*0.4
	}

	return clamp01(score)
}

func coherenceScore(response string) float64 {
	sentences := splitSentences(response)
	if len(sentences) == 0 {
		return 0.0
	}

	score := 0.0

	totalWords := 0
	for _, s := range sentences {
		totalWords += len(strings.Fields(s))
	}
	avgLength := float64(totalWords) / float64(len(sentences))
	switch {
	case avgLength >= 10 && avgLength <= 25:
		score += 0.3
	case avgLength >= 5 && avgLength <= 35:
		score += 0.15
	}

	lower := strings.ToLower(response)
	for _, t := range transitions {
		if strings.Contains(lower, t) {
			score += 0.2
			break
		}
	}

	words := strings.Fields(lower)
	if len(words) > 0 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[w] = struct{}{}
		}
		uniqueness := float64(len(unique)) / float64(len(words))
		switch {
		case uniqueness > 0.5:
			score += 0.3
		case uniqueness > 0.3:
			score += 0.15
		}
	}

	runes := []rune(response)
	if len(runes) > 0 && unicode.IsUpper(runes[0]) && strings.ContainsAny(string(runes[len(runes)-1]), ".!?") {
		score += 0.2
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func completenessScore(query, response string) float64 {
	score := 0.0

	wordCount := len(strings.Fields(response))
	switch {
	case wordCount > 50:
		score += 0.4
	case wordCount > 20:
		score += 0.3
	case wordCount > 10:
		score += 0.2
	default:
		score += 0.1
	}

	queryLower := strings.ToLower(query)
	responseLower := strings.ToLower(response)

	for qword, indicators := range questionIndicators {
		if !strings.Contains(queryLower, qword) {
			continue
		}
		for _, ind := range indicators {
			if strings.Contains(responseLower, ind) {
				score += 0.3
				break
			}
		}
		break
	}

	for _, p := range examplePhrases {
		if strings.Contains(responseLower, p) {
			score += 0.2
			break
		}
	}

	// Honest uncertainty is rewarded, not penalized.
	if strings.Contains(response, "I don't") || strings.Contains(response, "I cannot") || strings.Contains(response, "I'm not sure") {
		score += 0.1
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func accuracyScore(chunks []retrieval.RankedChunk) float64 {
	if len(chunks) == 0 {
		return 0.0
	}

	score := avgChunkScore(chunks)

	highQuality := 0
	for _, c := range chunks {
		if c.AdjustedScore > 0.8 {
			highQuality++
		}
	}
	if highQuality >= 3 {
		score += 0.1
	}

	return clamp01(score)
}

func concisenessScore(response string) float64 {
	wordCount := len(strings.Fields(response))

	switch {
	case wordCount >= 50 && wordCount <= 200:
		return 1.0
	case wordCount >= 30 && wordCount < 50:
		return 0.8
	case wordCount > 200 && wordCount <= 300:
		return 0.8
	case wordCount >= 20 && wordCount < 30:
		return 0.6
	case wordCount > 300 && wordCount <= 500:
		return 0.6
	case wordCount < 20:
		return 0.3
	default:
		return 0.4
	}
}

// groundednessScore measures how much of the response vocabulary comes from
// the source chunks.
func groundednessScore(response string, chunks []retrieval.RankedChunk) float64 {
	if len(chunks) == 0 {
		return 0.0
	}

	var chunkText strings.Builder
	for _, c := range chunks {
		chunkText.WriteString(c.Text)
		chunkText.WriteString(" ")
	}
	chunkKeywords := keywords(chunkText.String(), 4)
	responseKeywords := keywords(response, 4)

	if len(responseKeywords) == 0 {
		return 0.0
	}

	matched := 0
	for w := range responseKeywords {
		if _, ok := chunkKeywords[w]; ok {
			matched++
		}
	}
	score := float64(matched) / float64(len(responseKeywords))

	lower := strings.ToLower(response)
	for _, p := range groundedPhrases {
		if strings.Contains(lower, p) {
			score += 0.1
			break
		}
	}

	return clamp01(score)
}

// keywords lowercases text and returns the set of words strictly longer than
// minLen.
func keywords(text string, minLen int) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) > minLen {
			set[w] = struct{}{}
		}
	}
	return set
}

func splitSentences(text string) []string {
	var sentences []string
	for _, s := range strings.Split(text, ".") {
		if t := strings.TrimSpace(s); t != "" {
			sentences = append(sentences, t)
		}
	}
	return sentences
}

func avgChunkScore(chunks []retrieval.RankedChunk) float64 {
	sum := 0.0
	for _, c := range chunks {
		sum += c.AdjustedScore
	}
	return sum / float64(len(chunks))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
