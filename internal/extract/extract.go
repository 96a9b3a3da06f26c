// Package extract turns raw scrape payloads into plain text.
package extract

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/legisrag/internal/model"
	"github.com/xxxsen/legisrag/internal/pkg/contenthash"
)

// Result of one extractor before it is stamped with time and hash.
type Result struct {
	Title string
	Text  string
}

// Extractor handles one family of content types.
type Extractor interface {
	Extract(data []byte) (*Result, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Extractor{}
)

// Register binds an extractor to media types such as "text/html".
func Register(e Extractor, mediaTypes ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, mt := range mediaTypes {
		registry[strings.ToLower(strings.TrimSpace(mt))] = e
	}
}

func lookup(mediaType string) Extractor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[mediaType]
}

// MediaType drops parameters such as charset from a Content-Type value.
func MediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	return strings.ToLower(mt)
}

// Extract converts data according to contentType. Unknown types are read as
// plain text when they are valid UTF-8 and produce empty text otherwise.
func Extract(ctx context.Context, data []byte, contentType string) (*model.ExtractedText, error) {
	mt := MediaType(contentType)
	ext := lookup(mt)
	if ext == nil {
		if !utf8.Valid(data) {
			logutil.GetLogger(ctx).Debug("unsupported binary content type", zap.String("content_type", contentType))
			ext = emptyExtractor{}
		} else {
			ext = plainExtractor{}
		}
	}
	res, err := ext.Extract(data)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", mt, err)
	}
	text := CleanText(res.Text)
	return &model.ExtractedText{
		Text:        text,
		Title:       strings.TrimSpace(res.Title),
		RetrievedAt: time.Now().UnixMilli(),
		ContentHash: contenthash.SumString(text),
	}, nil
}

// IsEmpty reports whether text has fewer than minRunes non-space runes.
func IsEmpty(text string, minRunes int) bool {
	if minRunes <= 0 {
		minRunes = 1
	}
	n := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		n++
		if n >= minRunes {
			return false
		}
	}
	return true
}

// CleanText trims every line, drops blank runs and joins paragraphs with a
// single blank line.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if len(out) > 0 {
				blank = true
			}
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

type plainExtractor struct{}

func (plainExtractor) Extract(data []byte) (*Result, error) {
	return &Result{Text: strings.ToValidUTF8(string(data), "")}, nil
}

type emptyExtractor struct{}

func (emptyExtractor) Extract([]byte) (*Result, error) {
	return &Result{}, nil
}

func init() {
	Register(plainExtractor{}, "text/plain", "")
}
