// Package contenthash computes the dedup key of scraped content.
package contenthash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"unicode/utf8"
)

var (
	bom           = []byte{0xEF, 0xBB, 0xBF}
	horizontalWS  = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	trailingWS    = regexp.MustCompile(`(?m)[ \t]+$`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

// Normalize removes encoding and whitespace noise that changes between
// fetches of an otherwise unchanged page.
func Normalize(raw []byte) []byte {
	data := bytes.TrimPrefix(raw, bom)
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, nil)
	}
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	data = bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
	data = horizontalWS.ReplaceAll(data, []byte(" "))
	data = trailingWS.ReplaceAll(data, nil)
	data = multiNewlines.ReplaceAll(data, []byte("\n\n"))
	return bytes.TrimSpace(data)
}

// Sum returns the hex sha256 of the normalized content.
func Sum(raw []byte) string {
	hash := sha256.Sum256(Normalize(raw))
	return hex.EncodeToString(hash[:])
}

// SumString is Sum for text payloads.
func SumString(raw string) string {
	return Sum([]byte(raw))
}

// DocumentKey identifies the document a scrape produces. Chunks are keyed by
// it, so two scrapes of the same content from one source share a document.
func DocumentKey(sourceID, contentHash string) string {
	hash := sha256.Sum256([]byte(sourceID + "\x00" + contentHash))
	return hex.EncodeToString(hash[:16])
}
