package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/stephnangue/belfry/core"
)

// ErrorResponse represents a JSON error response
type ErrorResponse struct {
	Errors []string `json:"errors"`
}

// respondError writes an error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := &ErrorResponse{
		Errors: []string{message},
	}

	json.NewEncoder(w).Encode(resp)
}

// ResourceResponse is the JSON body for resource reads and ring results.
type ResourceResponse struct {
	Code     int            `json:"code"`
	Reason   string         `json:"reason,omitempty"`
	Resource *core.Resource `json:"resource"`
}

// respondResource writes a resource result as JSON.
func respondResource(w http.ResponseWriter, status int, resource *core.Resource, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(&ResourceResponse{
		Code:     status,
		Reason:   reason,
		Resource: resource,
	})
}

// acceptWeights extracts the client's preference for HTML and JSON from
// an Accept header. Absent media types weigh -1 so "no preference given"
// and "explicitly refused" both sort below any positive weight.
func acceptWeights(header string) (htmlWeight, jsonWeight float64) {
	htmlWeight, jsonWeight = -1, -1
	if header == "" {
		return 1, 1
	}

	update := func(current *float64, q float64) {
		if q > *current {
			*current = q
		}
	}

	for _, part := range strings.Split(header, ",") {
		fields := strings.Split(strings.TrimSpace(part), ";")
		mediaType := strings.TrimSpace(fields[0])

		q := 1.0
		for _, f := range fields[1:] {
			f = strings.TrimSpace(f)
			if v, ok := strings.CutPrefix(f, "q="); ok {
				parsed, err := strconv.ParseFloat(v, 64)
				if err == nil {
					q = parsed
				}
			}
		}
		if q <= 0 {
			continue
		}

		switch mediaType {
		case "text/html", "text/*":
			update(&htmlWeight, q)
		case "application/json", "application/*":
			update(&jsonWeight, q)
		case "*/*":
			update(&htmlWeight, q)
			update(&jsonWeight, q)
		}
	}
	return htmlWeight, jsonWeight
}
