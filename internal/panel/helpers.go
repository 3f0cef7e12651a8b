package panel

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rendis/cascade/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCascadeError maps an error code to an HTTP status.
func writeCascadeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case schema.HasCode(err, schema.ErrCodeNotFound):
		status = http.StatusNotFound
	case schema.HasCode(err, schema.ErrCodeConflict), schema.HasCode(err, schema.ErrCodeInvalidTransition):
		status = http.StatusConflict
	case schema.HasCode(err, schema.ErrCodeValidation):
		status = http.StatusBadRequest
	}
	writeError(w, status, err.Error())
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
