// Package handlers serves the read side of the API and the public auth endpoints.
// Mutations go through the request pipeline instead.
package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sitecrew/construction-api/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxAuthBody     = 64 << 10
)

// page is a limit/offset pair read from the query string
type page struct {
	Limit  int
	Offset int
}

// parsePage reads ?limit= and ?offset=. Missing values fall back to defaults
// and limit is capped at maxPageSize.
func parsePage(r *http.Request) (page, map[string]interface{}) {
	p := page{Limit: defaultPageSize}
	invalid := map[string]interface{}{}

	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			invalid["limit"] = "limit must be a positive integer"
		} else {
			p.Limit = min(n, maxPageSize)
		}
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			invalid["offset"] = "offset must be a non-negative integer"
		} else {
			p.Offset = n
		}
	}
	if len(invalid) > 0 {
		return p, invalid
	}
	return p, nil
}

// decodeBody reads a JSON object body, keeping numbers as json.Number
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAuthBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]interface{}{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return payload, nil
}

func stringField(payload map[string]interface{}, field string) string {
	s, _ := utils.ToString(payload[field])
	return s
}
