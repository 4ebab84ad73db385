// Package rows extracts tabular triage data (replay error rows, replay
// network rows, stack frames) from a composite page tree. Each row kind
// has three independent strategies: structured row selectors,
// anchor-proximity row reconstruction and free-text segmentation. All
// three always run; their results are concatenated in that order and
// deduplicated by a composite key, first occurrence winning.
package rows

import (
	"strconv"
	"strings"
)

// keySep joins identifying fields into a composite key.
const keySep = "|"

// ErrorRow is one error listed in a replay's errors view.
type ErrorRow struct {
	EventID    string `json:"eventId,omitempty"`
	Title      string `json:"title,omitempty"`
	Issue      string `json:"issue,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	DetailsURL string `json:"detailsUrl,omitempty"`
}

// Identified reports whether the row carries at least one identifying field.
func (r ErrorRow) Identified() bool {
	return r.EventID != "" || r.Issue != "" || r.Title != ""
}

// Key is the dedup key: event id, issue, timestamp. Rows without an
// event id also key on their title.
func (r ErrorRow) Key() string {
	parts := []string{r.EventID, r.Issue, r.Timestamp}
	if r.EventID == "" {
		parts = append(parts, r.Title)
	}
	return strings.Join(parts, keySep)
}

// NetworkRow is one request listed in a replay's network view.
type NetworkRow struct {
	Method     string `json:"method,omitempty"`
	Status     int    `json:"status,omitempty"`
	Host       string `json:"host,omitempty"`
	RequestURL string `json:"requestUrl,omitempty"`
	Duration   string `json:"duration,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	DetailsURL string `json:"detailsUrl,omitempty"`
	Title      string `json:"title,omitempty"`
}

// Identified reports whether the row names a request.
func (r NetworkRow) Identified() bool {
	return r.RequestURL != "" || r.Host != "" || (r.Method != "" && r.Status != 0)
}

// IsError classifies a request as failed when its status is 400 or above.
func (r NetworkRow) IsError() bool { return r.Status >= 400 }

// Key is the dedup key: method, status, request URL, host, timestamp.
func (r NetworkRow) Key() string {
	status := ""
	if r.Status != 0 {
		status = strconv.Itoa(r.Status)
	}
	return strings.Join([]string{r.Method, status, r.RequestURL, r.Host, r.Timestamp}, keySep)
}

// Dedup keeps the first row for every composite key, preserving order.
func Dedup[T any](in []T, key func(T) string) []T {
	seen := make(map[string]bool, len(in))
	out := make([]T, 0, len(in))
	for _, r := range in {
		k := key(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// NetworkErrors filters rows down to failed requests.
func NetworkErrors(in []NetworkRow) []NetworkRow {
	var out []NetworkRow
	for _, r := range in {
		if r.IsError() {
			out = append(out, r)
		}
	}
	return out
}

func merge[T any](key func(T) string, keep func(T) bool, sets ...[]T) []T {
	var all []T
	for _, s := range sets {
		for _, r := range s {
			if keep(r) {
				all = append(all, r)
			}
		}
	}
	return Dedup(all, key)
}
