package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/response"
)

// QueueLen reports how many submissions wait for sync.
type QueueLen interface {
	Len(ctx context.Context) (int, error)
}

// SystemHandler reports process health for load balancers and operators.
type SystemHandler struct {
	online    func() bool
	queue     QueueLen
	sessions  func() int
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. online and sessions may be nil.
func NewSystemHandler(online func() bool, queue QueueLen, sessions func() int, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		online:    online,
		queue:     queue,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status             string `json:"status"`
	ResultsStoreOnline bool   `json:"results_store_online"`
	PendingSubmissions int    `json:"pending_submissions"`
	LiveSessions       int    `json:"live_sessions"`
	Uptime             string `json:"uptime"`

	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	GoVersion  string `json:"go_version"`
}

// Health godoc
// GET /health
// The engine keeps serving while the results store is down, so "degraded" still
// answers 200.
func (h *SystemHandler) Health(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	report := healthReport{
		Status:             "ok",
		ResultsStoreOnline: true,
		Uptime:             formatDuration(time.Since(h.startTime)),
		Goroutines:         runtime.NumGoroutine(),
		HeapAlloc:          mem.HeapAlloc,
		GoVersion:          runtime.Version(),
	}
	if h.online != nil {
		report.ResultsStoreOnline = h.online()
	}
	if h.sessions != nil {
		report.LiveSessions = h.sessions()
	}
	if h.queue != nil {
		n, err := h.queue.Len(c.Request.Context())
		if err != nil {
			h.log.Warn().Err(err).Msg("Could not read offline queue length")
			report.Status = "degraded"
		}
		report.PendingSubmissions = n
	}
	if !report.ResultsStoreOnline {
		report.Status = "degraded"
	}

	response.Success(c, http.StatusOK, report)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
