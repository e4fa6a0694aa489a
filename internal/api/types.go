package api

// RenderRequest is the JSON body for POST /render.
type RenderRequest struct {
	HTML    string         `json:"html"`
	CSS     string         `json:"css,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	ActiveSlots   int    `json:"active_slots"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	ActiveSlots       int     `json:"active_slots"`
	CompletedCount    uint64  `json:"completed_count"`
	AverageDurationMs float64 `json:"average_duration_ms"`
	QueueDepth        int     `json:"queue_depth"`
	CacheHits         uint64  `json:"cache_hits"`
	CacheMisses       uint64  `json:"cache_misses"`
}
