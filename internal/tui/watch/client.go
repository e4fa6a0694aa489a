package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// --- Message types ---

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	ActiveSlots   int    `json:"active_slots"`
}

type statsMsg struct {
	ActiveSlots       int     `json:"active_slots"`
	CompletedCount    uint64  `json:"completed_count"`
	AverageDurationMs float64 `json:"average_duration_ms"`
	QueueDepth        int     `json:"queue_depth"`
	CacheHits         uint64  `json:"cache_hits"`
	CacheMisses       uint64  `json:"cache_misses"`
}

type jobEntry struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Kind        string `json:"kind,omitempty"`
	Bytes       int    `json:"bytes"`
	DurationMs  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
	CompletedAt string `json:"completed_at"`
}

type recentJobsMsg []jobEntry

type tickMsg time.Time

type errMsg error

// --- Commands ---

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL string) tea.Msg {
	var h healthMsg
	if err := getJSON(apiURL+"/healthz", &h); err != nil {
		return errMsg(err)
	}
	return h
}

// fetchStats queries the /stats endpoint.
func fetchStats(apiURL string) tea.Msg {
	var s statsMsg
	if err := getJSON(apiURL+"/stats", &s); err != nil {
		return errMsg(err)
	}
	return s
}

// fetchRecentJobs queries the /jobs/recent endpoint. A 404 means the render
// log is disabled server-side and yields an empty list.
func fetchRecentJobs(apiURL string) tea.Msg {
	var entries []jobEntry
	if err := getJSON(apiURL+"/jobs/recent?limit=15", &entries); err != nil {
		return recentJobsMsg(nil)
	}
	return recentJobsMsg(entries)
}

func getJSON(url string, out any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
