package api

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 problem details body.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	// Kind is the lsmeta error kind, e.g. "invalid_state".
	Kind string `json:"kind,omitempty"`
}

const contentTypeProblemJSON = "application/problem+json"

func writeProblem(w http.ResponseWriter, status int, kind, detail string) {
	w.Header().Set("Content-Type", contentTypeProblemJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Kind:   kind,
	})
}

// writeJSON encodes to a buffer first so encoding errors still produce a
// clean 500.
func writeJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		writeProblem(w, http.StatusInternalServerError, "", "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
