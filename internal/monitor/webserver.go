package monitor

import (
	"context"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/lightlink/internal/config"
	"github.com/banshee-data/lightlink/internal/storage"
	"github.com/banshee-data/lightlink/internal/units"
)

//go:embed status.html
var StatusHTML embed.FS

// PayloadSender queues a payload for transmission on the loopback light
// channel. Only the dev harness provides one.
type PayloadSender interface {
	Send(payload []byte) error
	Busy() bool
}

// WebServer handles the HTTP interface for monitoring the light link.
// It provides endpoints for health checks, link state, stored packets
// and debugging charts.
type WebServer struct {
	address   string
	stats     *LinkStats
	server    *http.Server
	mux       *http.ServeMux
	db        *storage.DB
	tuning    *config.TuningConfig
	source    string
	sessionID string
	sender    PayloadSender
	feed      *packetFeed
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address   string
	Stats     *LinkStats
	DB        *storage.DB
	Tuning    *config.TuningConfig
	Source    string
	SessionID string
	Sender    PayloadSender
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(cfg WebServerConfig) *WebServer {
	ws := &WebServer{
		address:   cfg.Address,
		stats:     cfg.Stats,
		db:        cfg.DB,
		tuning:    cfg.Tuning,
		source:    cfg.Source,
		sessionID: cfg.SessionID,
		sender:    cfg.Sender,
		feed:      newPacketFeed(),
	}

	ws.mux = ws.setupRoutes()
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.mux,
	}

	return ws
}

// ServeMux exposes the underlying mux so callers can attach additional
// routes, like the database admin surfaces, before Start.
func (ws *WebServer) ServeMux() *http.ServeMux {
	return ws.mux
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown
func (ws *WebServer) Start(ctx context.Context) error {
	// Start server in a goroutine so it doesn't block
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	// Create a shutdown context with a shorter timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/link/status", ws.handleLinkStatus)
	mux.HandleFunc("/api/link/params", ws.handleLinkParams)
	mux.HandleFunc("/api/link/packets", ws.handleLinkPackets)
	mux.HandleFunc("/api/link/events", ws.handleLinkEvents)
	mux.HandleFunc("/api/link/sessions", ws.handleLinkSessions)
	mux.HandleFunc("/api/link/rates", ws.handleLinkRates)
	mux.HandleFunc("/api/link/send", ws.handleLinkSend)
	mux.HandleFunc("/debug/charts/signal", ws.handleSignalChart)
	mux.HandleFunc("/debug/charts/rates", ws.handleRatesChart)

	return mux
}

// handleHealth handles the health check endpoint
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "lightlink", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus handles the main status page endpoint
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	sendStatus := "disabled"
	if ws.sender != nil {
		sendStatus = "enabled (loopback)"
	}

	// Load and parse the HTML template from embedded filesystem
	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	state, baseUnit := ws.stats.LinkState()
	sampleRate := 0
	if ws.tuning != nil {
		sampleRate = ws.tuning.GetSampleRateHz()
	}

	// Template data
	data := struct {
		Source      string
		HTTPAddress string
		SessionID   string
		SendStatus  string
		LinkState   string
		BaseUnit    string
		Uptime      string
		Stats       *StatsSnapshot
	}{
		Source:      ws.source,
		HTTPAddress: ws.address,
		SessionID:   ws.sessionID,
		SendStatus:  sendStatus,
		LinkState:   state,
		BaseUnit:    units.FormatBaseUnit(baseUnit, sampleRate),
		Uptime:      units.FormatDuration(ws.stats.GetUptime()),
		Stats:       ws.stats.GetLatestSnapshot(),
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleLinkStatus returns the live link state as JSON.
func (ws *WebServer) handleLinkStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	state, baseUnit := ws.stats.LinkState()

	status := map[string]interface{}{
		"session_id":        ws.sessionID,
		"source":            ws.source,
		"state":             state,
		"base_unit_samples": baseUnit,
		"uptime_seconds":    int64(ws.stats.GetUptime().Seconds()),
	}
	if snap := ws.stats.GetLatestSnapshot(); snap != nil {
		status["samples_per_sec"] = snap.SamplesPerSec
		status["bytes_per_sec"] = snap.BytesPerSec
		status["packets_per_sec"] = snap.PacketsPerSec
		status["recent_invalid"] = snap.InvalidCount
		status["recent_dropped"] = snap.DroppedCount
		status["snapshot_at"] = snap.Timestamp.UTC().Format(time.RFC3339)
	}
	if ws.db != nil {
		if valid, invalid, err := ws.db.PacketCounts(); err == nil {
			status["stored_valid"] = valid
			status["stored_invalid"] = invalid
		}
	}
	if ws.sender != nil {
		status["transmitter_busy"] = ws.sender.Busy()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleLinkParams returns the resolved tuning parameters, defaults
// filled in, so operators can see what the decoder is actually running
// with.
func (ws *WebServer) handleLinkParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	tuning := ws.tuning
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}

	params := map[string]interface{}{
		"noise_floor":       tuning.GetNoiseFloor(),
		"edge_z":            tuning.GetEdgeZ(),
		"debounce_samples":  tuning.GetDebounceSamples(),
		"min_sync_run":      tuning.GetMinSyncRun(),
		"sync_tolerance":    tuning.GetSyncTolerance(),
		"tolerance":         tuning.GetTolerance(),
		"max_pulse_samples": tuning.GetMaxPulseSamples(),
		"max_payload":       tuning.GetMaxPayload(),
		"base_unit":         tuning.GetBaseUnit().String(),
		"guard_units":       tuning.GetGuardUnits(),
		"sample_rate_hz":    tuning.GetSampleRateHz(),
		"stats_interval":    tuning.GetStatsInterval().String(),

		// The decoder's measured base unit on /api/link/status should sit
		// near this if the tuning matches the transmitter.
		"expected_samples_per_unit": units.SamplesPerUnit(tuning.GetBaseUnit(), tuning.GetSampleRateHz()),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(params)
}

// parseLimit reads a limit query param, clamped to keep responses small.
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
		if limit <= 0 || limit > max {
			limit = def
		}
	}
	return limit
}

// handleLinkPackets returns recently decoded packets from the store.
// Query params:
//
//	limit (optional, default 20, max 200)
func (ws *WebServer) handleLinkPackets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.db == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for packet lookup")
		return
	}

	limit := parseLimit(r, 20, 200)
	packets, err := ws.db.RecentPackets(limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get recent packets: %v", err))
		return
	}

	type packetSummary struct {
		ID         int64   `json:"id"`
		SessionID  string  `json:"session_id"`
		Text       string  `json:"text"`
		Hex        string  `json:"hex"`
		Length     int     `json:"length"`
		Checksum   string  `json:"checksum"`
		Valid      bool    `json:"valid"`
		BaseUnit   float64 `json:"base_unit"`
		ReceivedAt string  `json:"received_at"`
	}
	summaries := make([]packetSummary, 0, len(packets))
	for _, p := range packets {
		summaries = append(summaries, packetSummary{
			ID:         p.ID,
			SessionID:  p.SessionID,
			Text:       printableText(p.Payload),
			Hex:        hex.EncodeToString(p.Payload),
			Length:     p.Length,
			Checksum:   fmt.Sprintf("0x%02X", p.Checksum),
			Valid:      p.Valid,
			BaseUnit:   p.BaseUnit,
			ReceivedAt: time.UnixMilli(p.ReceivedAtUnixMs).UTC().Format(time.RFC3339Nano),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

// handleLinkEvents returns recent receiver events from the store.
func (ws *WebServer) handleLinkEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.db == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for event lookup")
		return
	}

	limit := parseLimit(r, 50, 500)
	events, err := ws.db.RecentLinkEvents(limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get recent events: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// handleLinkSessions returns recent receiver sessions from the store.
func (ws *WebServer) handleLinkSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.db == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for session lookup")
		return
	}

	limit := parseLimit(r, 10, 100)
	sessions, err := ws.db.Sessions(limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get sessions: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

// handleLinkRates returns per-minute packet counts.
// Query params:
//
//	minutes (optional, default 60, max 1440)
func (ws *WebServer) handleLinkRates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.db == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for rate lookup")
		return
	}

	minutes := 60
	if m := r.URL.Query().Get("minutes"); m != "" {
		if v, err := strconv.Atoi(m); err == nil && v > 0 && v <= 1440 {
			minutes = v
		}
	}

	buckets, err := ws.db.PacketRates(time.Now().Add(-time.Duration(minutes) * time.Minute))
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get packet rates: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(buckets)
}

// handleLinkSend queues a payload on the loopback transmitter. Body:
//
//	{"text": "Hello"} or {"hex": "48656c6c6f"}
//
// Only available when a sender is wired in (dev mode).
func (ws *WebServer) handleLinkSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.sender == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no transmitter available; run with -dev for the loopback channel")
		return
	}

	var req struct {
		Text string `json:"text"`
		Hex  string `json:"hex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("bad request body: %v", err))
		return
	}

	var payload []byte
	switch {
	case req.Hex != "":
		b, err := hex.DecodeString(req.Hex)
		if err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("bad hex payload: %v", err))
			return
		}
		payload = b
	case req.Text != "":
		payload = []byte(req.Text)
	default:
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'text' or 'hex' payload")
		return
	}

	if err := ws.sender.Send(payload); err != nil {
		ws.writeJSONError(w, http.StatusConflict, fmt.Sprintf("send: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "queued",
		"bytes":  len(payload),
	})
	log.Printf("Queued %d byte payload for transmission", len(payload))
}

// PublishPacket pushes a decoded packet to live tail subscribers.
func (ws *WebServer) PublishPacket(rec storage.PacketRecord) {
	ws.feed.publish(rec)
}

// printableText renders payload bytes for display, dotting out anything
// that is not printable ASCII.
func printableText(payload []byte) string {
	out := make([]byte, len(payload))
	for i, b := range payload {
		if b >= 0x20 && b < 0x7F {
			out[i] = b
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

// Close shuts down the web server
func (ws *WebServer) Close() error {
	ws.feed.closeAll()
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}
