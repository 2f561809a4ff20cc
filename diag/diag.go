package diag

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cschleiden/go-resume/backend"
)

// NewServeMux returns an *http.ServeMux that serves the diagnostics API at /api/
func NewServeMux(b backend.Backend) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		// Only support GET requests
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		relativeURL := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/"), "/")
		segments := strings.Split(relativeURL, "/")

		switch {
		// /api/stats
		case relativeURL == "stats":
			s, err := b.GetStats(r.Context())
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			writeJSON(w, &Stats{
				AwaitingExecutions: s.AwaitingExecutions,
				ExpiringExecutions: s.ExpiringExecutions,
			})

		// /api/entries
		case relativeURL == "entries":
			query := r.URL.Query()

			count := 25
			if countStr := query.Get("count"); countStr != "" {
				var err error
				count, err = strconv.Atoi(countStr)
				if err != nil || count < 0 {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
			}

			entries, err := b.GetEntries(r.Context(), query.Get("after"), count)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			now := time.Now()
			refs := make([]*EntryRef, 0, len(entries))
			for _, e := range entries {
				refs = append(refs, newEntryRef(e, now))
			}

			writeJSON(w, refs)

		// /api/entries/{executionID}
		case len(segments) == 2 && segments[0] == "entries" && segments[1] != "":
			e, err := b.Resolve(r.Context(), segments[1])
			if err != nil {
				if errors.Is(err, backend.ErrUnknownExecution) {
					w.WriteHeader(http.StatusNotFound)
					return
				}

				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			writeJSON(w, newEntryRef(e, time.Now()))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
}
