package toon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestEncode_SingleRow(t *testing.T) {
	fields := []string{"name", "amount"}
	rows := []map[string]*string{
		{"name": strPtr("Acme Corp"), "amount": strPtr("1200.50")},
	}

	out := Encode(fields, rows)

	assert.Equal(t, "extractions[1]{name,amount}:\n  Acme Corp\t1200.50\n", out)
}

func TestEncode_NullValue(t *testing.T) {
	fields := []string{"name", "amount"}
	rows := []map[string]*string{
		{"name": strPtr("Acme Corp"), "amount": nil},
	}

	out := Encode(fields, rows)

	assert.Equal(t, "extractions[1]{name,amount}:\n  Acme Corp\tnull\n", out)
}

func TestEncode_QuotesValueContainingTab(t *testing.T) {
	fields := []string{"note"}
	rows := []map[string]*string{
		{"note": strPtr("line1\tline2")},
	}

	out := Encode(fields, rows)

	assert.Equal(t, "extractions[1]{note}:\n  \"line1\tline2\"\n", out)
}

func TestDecode_RoundTrip(t *testing.T) {
	fields := []string{"vendor", "total", "date"}
	rows := []map[string]*string{
		{"vendor": strPtr("Acme Corp"), "total": strPtr("42.00"), "date": nil},
		{"vendor": strPtr("Globex"), "total": strPtr("7.25"), "date": strPtr("2026-01-05")},
	}

	doc := Encode(fields, rows)
	decoded, err := Decode(doc)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	assert.Equal(t, "Acme Corp", *decoded[0]["vendor"])
	assert.Equal(t, "42.00", *decoded[0]["total"])
	assert.Nil(t, decoded[0]["date"])

	assert.Equal(t, "Globex", *decoded[1]["vendor"])
	assert.Equal(t, "2026-01-05", *decoded[1]["date"])
}

func TestDecode_StripsMarkdownFence(t *testing.T) {
	doc := "```toon\nextractions[1]{name}:\n  Acme Corp\n```"

	decoded, err := Decode(doc)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "Acme Corp", *decoded[0]["name"])
}

func TestDecode_QuotedValueWithEscapedQuote(t *testing.T) {
	doc := "extractions[1]{note}:\n  \"he said \\\"hi\\\"\"\n"

	decoded, err := Decode(doc)
	require.NoError(t, err)
	assert.Equal(t, `he said "hi"`, *decoded[0]["note"])
}

func TestDecode_RowCountMismatch(t *testing.T) {
	doc := "extractions[2]{name}:\n  only-one\n"

	_, err := Decode(doc)
	assert.Error(t, err)
}

func TestDecode_FieldCountMismatch(t *testing.T) {
	doc := "extractions[1]{name,amount}:\n  only-one-value\n"

	_, err := Decode(doc)
	assert.Error(t, err)
}

func TestDecode_EmptyDocument(t *testing.T) {
	_, err := Decode("")
	assert.Error(t, err)
}

func TestDecode_ZeroRows(t *testing.T) {
	doc := "extractions[0]{name}:\n"

	decoded, err := Decode(doc)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}
