package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
)

const metricsInterval = 7 * time.Second

// SessionCounter reports how many exam sessions are live in this process.
type SessionCounter interface {
	Len() int
}

// SystemHandler streams grader and Go runtime metrics via SSE.
type SystemHandler struct {
	rdb         *redis.Client
	sessions    SessionCounter
	runtimeName string
	startTime   time.Time
	log         zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. runtimeName is the sandbox
// interpreter in use, or empty when code execution is disabled.
func NewSystemHandler(rdb *redis.Client, sessions SessionCounter, runtimeName string, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:         rdb,
		sessions:    sessions,
		runtimeName: runtimeName,
		startTime:   time.Now(),
		log:         log.With().Str("component", "system_handler").Logger(),
	}
}

type systemMetrics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	// Grader
	LiveSessions  int    `json:"live_sessions"`
	QueueMistakes int64  `json:"queue_mistakes"`
	Sandbox       string `json:"sandbox"`

	// Go Application
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc"`
	HeapSys     uint64  `json:"heap_sys"`
	NumGC       uint32  `json:"num_gc"`
	AppRSSBytes uint64  `json:"app_rss_bytes"`
	LoadAvg1    float64 `json:"load_avg_1"`
	GoVersion   string  `json:"go_version"`
	NumCPU      int     `json:"num_cpu"`
}

// SystemMetricsSSE godoc
// GET /api/v1/admin/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Msg("Admin connected to system metrics SSE")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	h.writeMetrics(c)

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Admin disconnected from system metrics SSE")
			return
		case <-ticker.C:
			h.writeMetrics(c)
		}
	}
}

func (h *SystemHandler) writeMetrics(c *gin.Context) {
	data, err := json.Marshal(h.collect(c.Request.Context()))
	if err != nil {
		return
	}
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	m := systemMetrics{
		Timestamp: time.Now().Unix(),
		Uptime:    formatDuration(time.Since(h.startTime)),
		Sandbox:   h.runtimeName,
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
	}
	if m.Sandbox == "" {
		m.Sandbox = "disabled"
	}
	if h.sessions != nil {
		m.LiveSessions = h.sessions.Len()
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Goroutines = runtime.NumGoroutine()
	m.HeapAlloc = ms.HeapAlloc
	m.HeapSys = ms.Sys
	m.NumGC = ms.NumGC

	m.AppRSSBytes, _ = readProcessRSS()
	m.LoadAvg1, _ = readLoadAvg()

	if h.rdb != nil {
		if n, err := h.rdb.LLen(ctx, config.WorkerKey.PersistMistakesQueue).Result(); err == nil {
			m.QueueMistakes = n
		}
	}
	return m
}

// readLoadAvg parses the 1-minute figure of /proc/loadavg.
func readLoadAvg() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("unexpected /proc/loadavg format")
	}
	return strconv.ParseFloat(fields[0], 64)
}

// readProcessRSS reads VmRSS from /proc/self/status.
func readProcessRSS() (uint64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		// "VmRSS:     12345 kB"
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("VmRSS not found")
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
