package extract

import (
	"encoding/json"
	"sort"
	"strings"
)

var (
	jsonTitleKeys = []string{"title", "name", "headline"}
	jsonTextKeys  = map[string]bool{
		"text": true, "content": true, "body": true, "summary": true,
		"description": true, "abstract": true, "snippet": true, "full_text": true,
	}
)

type jsonExtractor struct{}

// Extract pulls the text-bearing fields out of structured payloads such as
// discovery results or bill APIs. Other fields are ignored.
func (jsonExtractor) Extract(data []byte) (*Result, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	res := &Result{}
	if obj, ok := v.(map[string]interface{}); ok {
		for _, key := range jsonTitleKeys {
			if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
				res.Title = s
				break
			}
		}
	}
	var parts []string
	collectJSONText(v, &parts)
	res.Text = strings.Join(parts, "\n\n")
	return res, nil
}

func collectJSONText(v interface{}, parts *[]string) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		// map order is random; sorting keeps extraction deterministic
		sort.Strings(keys)
		for _, k := range keys {
			child := val[k]
			if s, ok := child.(string); ok {
				if jsonTextKeys[strings.ToLower(k)] && strings.TrimSpace(s) != "" {
					*parts = append(*parts, s)
				}
				continue
			}
			collectJSONText(child, parts)
		}
	case []interface{}:
		for _, item := range val {
			collectJSONText(item, parts)
		}
	}
}

func init() {
	Register(jsonExtractor{}, "application/json", "text/json", "application/ld+json")
}
