package extract

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

type pdfExtractor struct{}

// Extract recovers from the panics the pdf reader raises on malformed input.
func (pdfExtractor) Extract(data []byte) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(plain)
	if err != nil {
		return nil, err
	}
	return &Result{Text: string(bytes.ToValidUTF8(body, nil))}, nil
}

func init() {
	Register(pdfExtractor{}, "application/pdf")
}
