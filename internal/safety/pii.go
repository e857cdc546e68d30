package safety

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	prose "github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/knowledge-assistant/backend/pkg/logger"
)

// PIIResult describes what the detector found. RedactedText is always safe to
// log and persist; the caller decides whether to keep the original.
type PIIResult struct {
	HasPII       bool
	RedactedText string
	Types        []string
}

type span struct {
	start   int
	end     int
	piiType string
}

// piiDetector combines pattern matching for structured identifiers with NER
// for person names. Detection is local so it cannot fail open the way the
// moderation classifier can.
type piiDetector struct {
	patterns map[string]*regexp.Regexp
}

func newPIIDetector() *piiDetector {
	return &piiDetector{
		patterns: map[string]*regexp.Regexp{
			"EMAIL":       regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			"PHONE":       regexp.MustCompile(`\b(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`),
			"SSN":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			"CREDIT_CARD": regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`),
			"IP_ADDRESS":  regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		},
	}
}

// DetectAndRedactPII scans text for structured identifiers and person names
// and replaces each match with a [TYPE] placeholder.
func (g *Gate) DetectAndRedactPII(ctx context.Context, text string) (PIIResult, error) {
	if err := ctx.Err(); err != nil {
		return PIIResult{}, fmt.Errorf("pii detection aborted: %w", err)
	}

	spans := g.pii.detect(text)
	if len(spans) == 0 {
		return PIIResult{HasPII: false, RedactedText: text}, nil
	}

	redacted := redact(text, spans)

	typeSet := make(map[string]struct{})
	for _, s := range spans {
		typeSet[s.piiType] = struct{}{}
	}
	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(types)

	logger.Warn("PII detected in content",
		zap.Strings("types", types),
		zap.Int("spans", len(spans)),
	)

	return PIIResult{HasPII: true, RedactedText: redacted, Types: types}, nil
}

func (d *piiDetector) detect(text string) []span {
	var spans []span

	for piiType, pattern := range d.patterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			spans = append(spans, span{start: loc[0], end: loc[1], piiType: piiType})
		}
	}

	spans = append(spans, detectNames(text)...)

	return dropOverlaps(spans)
}

// detectNames runs NER over the text and maps PERSON entities back to byte
// offsets. Entities the tokenizer mangles beyond recognition are skipped
// rather than guessed at.
func detectNames(text string) []span {
	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		logger.Warn("NER pass failed, skipping name detection", zap.Error(err))
		return nil
	}

	var spans []span
	searchFrom := 0
	for _, ent := range doc.Entities() {
		if ent.Label != "PERSON" {
			continue
		}
		idx := strings.Index(text[searchFrom:], ent.Text)
		if idx < 0 {
			continue
		}
		start := searchFrom + idx
		spans = append(spans, span{start: start, end: start + len(ent.Text), piiType: "NAME"})
		searchFrom = start + len(ent.Text)
	}

	return spans
}

// dropOverlaps keeps the longest span when detections overlap, so a phone
// number inside a credit card match is redacted exactly once.
func dropOverlaps(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool {
		li, lj := spans[i].end-spans[i].start, spans[j].end-spans[j].start
		if li != lj {
			return li > lj
		}
		return spans[i].start < spans[j].start
	})

	var kept []span
	for _, s := range spans {
		overlaps := false
		for _, k := range kept {
			if s.start < k.end && k.start < s.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}

	return kept
}

// redact replaces spans back-to-front so earlier offsets stay valid.
func redact(text string, spans []span) string {
	ordered := make([]span, len(spans))
	copy(ordered, spans)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].start > ordered[j].start })

	for _, s := range ordered {
		text = text[:s.start] + "[" + s.piiType + "]" + text[s.end:]
	}
	return text
}
