package monitor

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/lightlink/internal/storage"
)

// packetFeed fans decoded packets out to live tail subscribers. Slow
// subscribers miss packets rather than stalling the decode path.
type packetFeed struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	closing     bool
}

func newPacketFeed() *packetFeed {
	return &packetFeed{
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (f *packetFeed) subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[id] = ch
	return id, ch
}

func (f *packetFeed) unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

func (f *packetFeed) publish(rec storage.PacketRecord) {
	line := struct {
		Text       string `json:"text"`
		Hex        string `json:"hex"`
		Length     int    `json:"length"`
		Checksum   string `json:"checksum"`
		Valid      bool   `json:"valid"`
		ReceivedAt string `json:"received_at"`
	}{
		Text:       printableText(rec.Payload),
		Hex:        hex.EncodeToString(rec.Payload),
		Length:     rec.Length,
		Checksum:   fmt.Sprintf("0x%02X", rec.Checksum),
		Valid:      rec.Valid,
		ReceivedAt: time.UnixMilli(rec.ReceivedAtUnixMs).UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(line)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closing {
		return
	}
	for _, ch := range f.subscribers {
		select {
		case ch <- string(payload):
		default:
			// if the channel is full/blocking skip so as not to block the decode loop
		}
	}
}

func (f *packetFeed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closing = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
}

// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
// mux served at /debug/. These routes are accessible only over
// localhost/via Tailscale and are not publicly accessible.
func (ws *WebServer) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.URL("/debug/charts/signal", "Recent photodiode samples")
	debug.URL("/debug/charts/rates", "Per-minute packet counts")

	// API endpoint to issue Server-Side Events (SSE) as packets decode.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := ws.feed.subscribe()
		defer ws.feed.unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				_, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload)))
				if err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
