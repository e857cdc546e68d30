package safety

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGate() *Gate {
	// Moderation stays disabled so no network calls happen; PII detection is
	// fully local.
	return NewGate("", false, 0)
}

func TestDetectAndRedactEmail(t *testing.T) {
	g := testGate()

	result, err := g.DetectAndRedactPII(context.Background(), "please contact admin@example.com about the invoice")
	require.NoError(t, err)

	assert.True(t, result.HasPII)
	assert.Contains(t, result.Types, "EMAIL")
	assert.Contains(t, result.RedactedText, "[EMAIL]")
	assert.NotContains(t, result.RedactedText, "admin@example.com")
}

func TestDetectAndRedactSSN(t *testing.T) {
	g := testGate()

	result, err := g.DetectAndRedactPII(context.Background(), "the ssn on file is 123-45-6789")
	require.NoError(t, err)

	assert.True(t, result.HasPII)
	assert.Contains(t, result.Types, "SSN")
	assert.Equal(t, "the ssn on file is [SSN]", result.RedactedText)
}

func TestDetectAndRedactIPAddress(t *testing.T) {
	g := testGate()

	result, err := g.DetectAndRedactPII(context.Background(), "the request came from 192.168.1.50 yesterday")
	require.NoError(t, err)

	assert.True(t, result.HasPII)
	assert.Contains(t, result.Types, "IP_ADDRESS")
	assert.Contains(t, result.RedactedText, "[IP_ADDRESS]")
}

func TestDetectAndRedactMultipleSpans(t *testing.T) {
	g := testGate()

	result, err := g.DetectAndRedactPII(context.Background(), "mail a@b.io or c@d.io")
	require.NoError(t, err)

	assert.True(t, result.HasPII)
	assert.Equal(t, "mail [EMAIL] or [EMAIL]", result.RedactedText)
}

func TestNoPIIPassthrough(t *testing.T) {
	g := testGate()

	text := "how does the cache eviction policy work under load"
	result, err := g.DetectAndRedactPII(context.Background(), text)
	require.NoError(t, err)

	assert.False(t, result.HasPII)
	assert.Equal(t, text, result.RedactedText)
	assert.Empty(t, result.Types)
}

func TestModerationDisabledAlwaysSafe(t *testing.T) {
	g := testGate()

	decision, err := g.CheckInput(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.True(t, decision.Safe)

	decision, err = g.CheckOutput(context.Background(), "anything at all")
	require.NoError(t, err)
	assert.True(t, decision.Safe)
}

func TestDropOverlapsKeepsLongestSpan(t *testing.T) {
	spans := []span{
		{start: 0, end: 5, piiType: "PHONE"},
		{start: 2, end: 16, piiType: "CREDIT_CARD"},
		{start: 20, end: 25, piiType: "SSN"},
	}

	kept := dropOverlaps(spans)

	require.Len(t, kept, 2)
	types := []string{kept[0].piiType, kept[1].piiType}
	assert.Contains(t, types, "CREDIT_CARD")
	assert.Contains(t, types, "SSN")
	assert.NotContains(t, types, "PHONE")
}

func TestRedactBackToFront(t *testing.T) {
	text := "abc 1234 xyz"
	spans := []span{
		{start: 4, end: 8, piiType: "SSN"},
		{start: 0, end: 3, piiType: "NAME"},
	}

	assert.Equal(t, "[NAME] [SSN] xyz", redact(text, spans))
}
