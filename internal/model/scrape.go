package model

// RawScrape is one fetch of one source at one point in time.
type RawScrape struct {
	ID           string `json:"id"`
	SourceID     string `json:"source_id"`
	URL          string `json:"url"`
	ContentHash  string `json:"content_hash"`
	ContentType  string `json:"content_type"`
	Data         []byte `json:"data,omitempty"`
	BlobURI      string `json:"blob_uri,omitempty"`
	HTTPStatus   int    `json:"http_status_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Processed    bool   `json:"processed"`
	Attempts     int    `json:"attempts"`
	// copied onto every chunk, e.g. jurisdiction and source_type
	Metadata map[string]string `json:"metadata,omitempty"`
	Ctime    int64             `json:"created_at"`
	Mtime    int64             `json:"mtime"`
}

// ExtractedText is the readable form of a scrape payload.
type ExtractedText struct {
	Text        string `json:"text"`
	Title       string `json:"title,omitempty"`
	RetrievedAt int64  `json:"retrieved_at"`
	ContentHash string `json:"content_hash"`
}

type ScrapeStats struct {
	Total       int64 `json:"total"`
	Processed   int64 `json:"processed"`
	Unprocessed int64 `json:"unprocessed"`
	Failing     int64 `json:"failing"`
}
