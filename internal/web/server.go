// Package web is a thin localhost presentation surface over the batch core.
// It only consumes events and renders state; all image work stays in the
// scheduler's workers.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"image-compressor-go/internal/batch"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/scheduler"
	"image-compressor-go/internal/statistics"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	// Current batch state
	batchMutex  sync.RWMutex
	isRunning   bool
	currentRun  *batch.Batch
	cancelBatch context.CancelFunc
	lastSummary *statistics.Summary
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type CompressRequest struct {
	Paths       []string                  `json:"paths"`
	OutputDir   string                    `json:"output_dir"`
	Compression *config.CompressionConfig `json:"compression,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // localhost UI only
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/records", s.handleRecords).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(http.Dir("web/static/"))),
	)
	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.batchMutex.Lock()
	if s.cancelBatch != nil {
		s.cancelBatch()
	}
	s.batchMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// A custom page dropped into web/templates wins over the built-in one.
	if _, err := os.Stat("web/templates/index.html"); err == nil {
		http.ServeFile(w, r, "web/templates/index.html")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>ImageCompressor</title>
<style>
body { font-family: sans-serif; max-width: 720px; margin: 2em auto; }
table { border-collapse: collapse; width: 100%; }
td, th { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
#summary { margin-top: 1em; font-weight: bold; }
</style>
</head>
<body>
<h1>ImageCompressor</h1>
<p>Submit batches via <code>POST /api/compress</code>, cancel via
<code>POST /api/cancel</code>. Progress updates stream below.</p>
<table>
<thead><tr><th>File</th><th>Status</th><th>Output</th></tr></thead>
<tbody id="records"></tbody>
</table>
<div id="summary"></div>
<script>
const rows = {};
const tbody = document.getElementById("records");
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (e) => {
	const msg = JSON.parse(e.data);
	if (msg.type === "record_update") {
		const rec = msg.data.record;
		let row = rows[rec.id];
		if (!row) {
			row = tbody.insertRow();
			row.insertCell(); row.insertCell(); row.insertCell();
			rows[rec.id] = row;
		}
		row.cells[0].textContent = rec.source_path;
		row.cells[1].textContent = rec.status;
		row.cells[2].textContent = rec.output_path || "";
	} else if (msg.type === "batch_complete") {
		const s = msg.data;
		document.getElementById("summary").textContent =
			s.done + " done, " + s.failed + " failed, " + s.skipped + " skipped";
	}
};
</script>
</body>
</html>
`

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.batchMutex.RLock()
	running := s.isRunning
	summary := s.lastSummary
	s.batchMutex.RUnlock()

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running": running,
			"summary": summary,
		},
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	s.batchMutex.RLock()
	run := s.currentRun
	s.batchMutex.RUnlock()

	if run == nil {
		s.writeJSON(w, APIResponse{Success: true, Data: []batch.Record{}})
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: run.Records()})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var req CompressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Paths) == 0 {
		s.writeError(w, "At least one input path is required", http.StatusBadRequest)
		return
	}

	cfg := *s.cfg
	if req.Compression != nil {
		cfg.Compression = *req.Compression
	}
	if req.OutputDir != "" {
		cfg.Compression.OutputDir = req.OutputDir
	}
	if err := cfg.Compression.Validate(); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if cfg.Compression.OutputDir == "" {
		s.writeError(w, "Output directory is required", http.StatusBadRequest)
		return
	}

	files := batch.Collect(req.Paths)
	if len(files) == 0 {
		s.writeError(w, "No supported image files found", http.StatusBadRequest)
		return
	}

	run := batch.New()
	for _, f := range files {
		if _, err := run.Add(f); err != nil {
			s.log.Warnf("Skipping input: %v", err)
		}
	}
	if run.Len() == 0 {
		s.writeError(w, "No readable image files found", http.StatusBadRequest)
		return
	}

	s.batchMutex.Lock()
	if s.isRunning {
		s.batchMutex.Unlock()
		s.writeError(w, "A batch is already in progress", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.isRunning = true
	s.currentRun = run
	s.cancelBatch = cancel
	s.batchMutex.Unlock()

	go s.runBatchAsync(ctx, &cfg, run)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("Batch of %d files started", run.Len()),
		Data:    run.Records(),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.batchMutex.Lock()
	cancel := s.cancelBatch
	s.batchMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Cancellation requested",
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

// runBatchAsync runs the scheduler and relays its callbacks to every
// connected websocket client. The callbacks fire on the scheduler's single
// sink goroutine, which keeps broadcast ordering identical to event order.
func (s *Server) runBatchAsync(ctx context.Context, cfg *config.Config, run *batch.Batch) {
	defer func() {
		s.batchMutex.Lock()
		s.isRunning = false
		s.cancelBatch = nil
		s.batchMutex.Unlock()
	}()

	sched := scheduler.New(cfg, s.log, scheduler.Callbacks{
		OnRecordStatusChanged: func(rec batch.Record, ev batch.Event) {
			s.broadcastWSMessage("record_update", map[string]interface{}{
				"record": rec,
				"event":  ev,
			})
		},
		OnBatchComplete: func(summary statistics.Summary) {
			s.batchMutex.Lock()
			s.lastSummary = &summary
			s.batchMutex.Unlock()
			s.broadcastWSMessage("batch_complete", summary)
		},
	})

	s.broadcastWSMessage("batch_started", map[string]interface{}{
		"total": run.Len(),
	})

	if _, err := sched.Run(ctx, run); err != nil {
		s.log.Errorf("Batch run failed: %v", err)
		s.broadcastWSMessage("batch_error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for conn := range s.wsClients {
		err := conn.WriteMessage(websocket.TextMessage, msgBytes)
		if err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			go func(c *websocket.Conn) {
				s.wsMutex.Lock()
				delete(s.wsClients, c)
				s.wsMutex.Unlock()
				c.Close()
			}(conn)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
