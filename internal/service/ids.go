package service

import (
	"strconv"

	"github.com/google/uuid"
)

var chunkNamespace = uuid.MustParse("6f1f5c8e-4a53-4a8e-9d55-3b8f2c1e7a10")

func newID() string {
	return uuid.NewString()
}

// chunkID is stable for a (document, index) pair so re-ingestion rewrites the
// same row.
func chunkID(documentID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(documentID+"/"+strconv.Itoa(index))).String()
}
