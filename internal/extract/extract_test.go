package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractHTML(t *testing.T) {
	page := `<html><head><title> SB 9 | Housing </title><script>var x = 1;</script></head>
<body><nav>Home | Bills</nav><h1>Senate Bill 9</h1>
<p>An act relating to   housing.</p><p>Section 1. Lot splits.</p>
<footer>copyright</footer></body></html>`
	res, err := Extract(context.Background(), []byte(page), "text/html; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "SB 9 | Housing", res.Title)
	assert.Contains(t, res.Text, "An act relating to housing.")
	assert.Contains(t, res.Text, "Section 1. Lot splits.")
	assert.NotContains(t, res.Text, "var x")
	assert.NotContains(t, res.Text, "copyright")
	assert.NotContains(t, res.Text, "Home | Bills")
	assert.NotEmpty(t, res.ContentHash)
	assert.NotZero(t, res.RetrievedAt)
}

func TestExtractHTMLTitleFallsBackToH1(t *testing.T) {
	res, err := Extract(context.Background(), []byte(`<body><h1>AB 1234</h1><p>text</p></body>`), "text/html")
	require.NoError(t, err)
	assert.Equal(t, "AB 1234", res.Title)
}

func TestExtractJSON(t *testing.T) {
	payload := `{"title":"HB 12","id":7,"summary":"Summary text.","sections":[{"text":"First section."},{"text":"Second section."}]}`
	res, err := Extract(context.Background(), []byte(payload), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "HB 12", res.Title)
	assert.Contains(t, res.Text, "First section.")
	assert.Contains(t, res.Text, "Second section.")
	assert.Contains(t, res.Text, "Summary text.")
	assert.NotContains(t, res.Text, "7")
}

func TestExtractInvalidJSON(t *testing.T) {
	_, err := Extract(context.Background(), []byte("{broken"), "application/json")
	require.Error(t, err)
}

func TestExtractMarkdown(t *testing.T) {
	md := "# Bill Text\n\nThe **legislature** finds that:\n\n- housing is scarce\n- zoning matters\n"
	res, err := Extract(context.Background(), []byte(md), "text/markdown")
	require.NoError(t, err)
	assert.Equal(t, "Bill Text", res.Title)
	assert.Contains(t, res.Text, "legislature")
	assert.Contains(t, res.Text, "zoning matters")
	assert.NotContains(t, res.Text, "**")
}

func TestExtractPlainAndUnknown(t *testing.T) {
	res, err := Extract(context.Background(), []byte("  line one  \n\n\n\nline   two "), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "line one\n\nline two", res.Text)

	res, err = Extract(context.Background(), []byte("readable"), "application/x-unknown")
	require.NoError(t, err)
	assert.Equal(t, "readable", res.Text)

	res, err = Extract(context.Background(), []byte{0xff, 0xfe, 0x00, 0x81}, "application/octet-stream")
	require.NoError(t, err)
	assert.Empty(t, res.Text)
}

func TestExtractBrokenPDF(t *testing.T) {
	_, err := Extract(context.Background(), []byte("not a pdf"), "application/pdf")
	require.Error(t, err)
}

const malformedXrefPDF = "%PDF-1.4\nxref\n0 2\n0000000000 65535 f \n0000000009 00000 n \ntrailer\n<< /Size 2 /Root 1 0 R >>\nstartxref\n9\n%%EOF\n"

func TestExtractMalformedPDFReturnsError(t *testing.T) {
	require.NotPanics(t, func() {
		_, err := Extract(context.Background(), []byte(malformedXrefPDF), "application/pdf")
		require.Error(t, err)
	})
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty("", 1))
	assert.True(t, IsEmpty(" \n\t ", 1))
	assert.False(t, IsEmpty("a", 1))
	assert.True(t, IsEmpty("ab", 3))
	assert.False(t, IsEmpty("a b c", 3))
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "text/html", MediaType("Text/HTML; charset=UTF-8"))
	assert.Equal(t, "", MediaType(""))
}
