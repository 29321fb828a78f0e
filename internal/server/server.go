package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/CK6170/propeller-loader/internal/history"
	"github.com/CK6170/propeller-loader/loader"
	"github.com/CK6170/propeller-loader/models"
	"github.com/CK6170/propeller-loader/params"
	"github.com/CK6170/propeller-loader/shell"
	"github.com/CK6170/propeller-loader/update"
)

// HistoryReader lists recorded uploads.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Deps are the collaborators a Server drives.
type Deps struct {
	Loader *shell.Loader
	Queue  *params.Queue
	Hub    *WSHub

	// History is optional; /api/history answers 404 without it.
	History HistoryReader

	// UploadDir receives firmware files posted by the browser.
	UploadDir string
	// WebDir holds the static frontend. Empty disables static hosting.
	WebDir string

	// WriteFlash is the target used when a start request does not name one.
	WriteFlash bool
	Logger     loader.Logger
}

type Server struct {
	mux *http.ServeMux

	loader     *shell.Loader
	queue      *params.Queue
	hub        *WSHub
	history    HistoryReader
	uploads    *UploadStore
	writeFlash bool
	log        loader.Logger
}

// New builds the HTTP API and subscribes the hub to parameter changes.
func New(d Deps) *Server {
	if d.Hub == nil {
		d.Hub = NewWSHub()
	}
	if d.UploadDir == "" {
		d.UploadDir = filepath.Join(os.TempDir(), "proploader-uploads")
	}
	s := &Server{
		mux:        http.NewServeMux(),
		loader:     d.Loader,
		queue:      d.Queue,
		hub:        d.Hub,
		history:    d.History,
		uploads:    NewUploadStore(d.UploadDir),
		writeFlash: d.WriteFlash,
		log:        d.Logger,
	}

	hub, ld := s.hub, s.loader
	s.queue.Post(func(p *params.Parameters) {
		p.AddListener(params.All, func(c params.Change) {
			hub.Broadcast(WSMessage{Type: EventState, Data: map[string]interface{}{
				"event": c.Event,
				"state": p.Snapshot(),
				"view":  ld.View(),
			}})
		})
	})

	// API
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/firmware", s.handleFirmwareUpload)
	s.mux.HandleFunc("/api/firmware/select", s.handleFirmwareSelect)
	s.mux.HandleFunc("/api/options", s.handleOptions)
	s.mux.HandleFunc("/api/devices/select", s.handleDeviceSelect)
	s.mux.HandleFunc("/api/discover", s.handleDiscover)
	s.mux.HandleFunc("/api/update/start", s.handleUpdateStart)
	s.mux.HandleFunc("/api/update/stop", s.handleUpdateStop)
	s.mux.HandleFunc("/api/history", s.handleHistory)

	// WS
	s.mux.HandleFunc("/ws/events", s.handleWSEvents)

	// Static frontend
	if d.WebDir != "" {
		fs := http.FileServer(http.Dir(d.WebDir))
		s.mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Avoid stale UI/assets after updates.
			if r.URL != nil {
				p := r.URL.Path
				if p == "/" ||
					strings.HasPrefix(p, "/assets/") ||
					strings.HasSuffix(p, ".html") ||
					strings.HasSuffix(p, ".js") ||
					strings.HasSuffix(p, ".css") {
					w.Header().Set("Cache-Control", "no-store")
				}
			}
			fs.ServeHTTP(w, r)
		}))
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Hub returns the event hub.
func (s *Server) Hub() *WSHub { return s.hub }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, APIError{Error: err.Error()})
}

func (s *Server) logError(msg string, kv ...interface{}) {
	if s.log != nil {
		s.log.Error(msg, kv...)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, HealthResponse{OK: true, Timestamp: time.Now()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.handleStateAfter(w, r)
}

// handleFirmwareUpload accepts a multipart "file" field holding a firmware
// binary or a JSON pack. The file is stored and loaded as if picked locally.
func (s *Server) handleFirmwareUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if s.loader.EmbeddedFirmware() {
		s.writeError(w, 409, errors.New("firmware is embedded"))
		return
	}
	f, hdr, err := fileFromMultipart(r, "file")
	if err != nil {
		s.writeError(w, 400, err)
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, 8<<20))
	if err != nil {
		s.writeError(w, 400, err)
		return
	}
	rec, err := s.uploads.Put(raw, hdr.Filename)
	if err != nil {
		s.writeError(w, 500, err)
		return
	}
	if err := s.loader.HandleFileSelection(r.Context(), rec.Path); err != nil {
		status := 500
		if errors.Is(err, models.ErrInvalidFirmware) {
			status = 400
		}
		s.writeError(w, status, err)
		return
	}
	st, err := s.loader.State(r.Context())
	if err != nil {
		s.writeError(w, 503, err)
		return
	}
	kind := "binary"
	if strings.EqualFold(filepath.Ext(rec.Path), ".json") {
		kind = "pack"
	}
	s.writeJSON(w, 200, UploadResponse{UploadID: rec.ID, Filename: rec.Filename, Kind: kind, State: st})
}

func fileFromMultipart(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return nil, nil, err
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, nil, err
	}
	return f, hdr, nil
}

func (s *Server) handleFirmwareSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req SelectFirmwareRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, 400, err)
		return
	}
	if err := s.loader.SelectFirmware(r.Context(), req.Index); err != nil {
		s.writeError(w, 400, err)
		return
	}
	s.handleStateAfter(w, r)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req shell.Options
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, 400, err)
		return
	}
	if err := s.loader.SetOptions(r.Context(), req); err != nil {
		s.writeError(w, 503, err)
		return
	}
	s.handleStateAfter(w, r)
}

func (s *Server) handleDeviceSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req DeviceSelectRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, 400, err)
		return
	}
	key, err := deviceKey(req)
	if err != nil {
		s.writeError(w, 400, err)
		return
	}
	found, err := s.loader.SelectDevice(r.Context(), key, req.Selected)
	if err != nil {
		s.writeError(w, 503, err)
		return
	}
	if !found {
		s.writeError(w, 404, errors.New("unknown device"))
		return
	}
	s.handleStateAfter(w, r)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	devices, err := s.loader.Discover(r.Context())
	if err != nil {
		s.writeError(w, 500, err)
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	s.writeJSON(w, 200, map[string]interface{}{"devices": devices})
}

// handleUpdateStart launches an update in the background. Progress and the
// final summary arrive on /ws/events.
func (s *Server) handleUpdateStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req UpdateStartRequest
	if r.ContentLength != 0 {
		if err := s.readJSON(r, &req); err != nil {
			s.writeError(w, 400, err)
			return
		}
	}
	writeFlash := s.writeFlash
	if req.WriteFlash != nil {
		writeFlash = *req.WriteFlash
	}

	// The run outlives the request.
	err := s.loader.Start(context.Background(), writeFlash, func(_ update.Summary, err error) {
		if err != nil {
			s.logError("update failed", "err", err)
			s.hub.Broadcast(WSMessage{Type: EventError, Data: map[string]interface{}{"message": err.Error()}})
		}
	})
	switch {
	case errors.Is(err, update.ErrBusy):
		s.writeError(w, 409, err)
		return
	case err != nil:
		s.writeError(w, 500, err)
		return
	}
	s.writeJSON(w, 200, UpdateStartResponse{OK: true, WriteFlash: writeFlash})
}

func (s *Server) handleUpdateStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.loader.Stop()
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || s.history == nil {
		http.NotFound(w, r)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, 400, err)
			return
		}
		limit = n
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, 500, err)
		return
	}
	s.writeJSON(w, 200, entries)
}

// handleStateAfter answers a mutation with the resulting state.
func (s *Server) handleStateAfter(w http.ResponseWriter, r *http.Request) {
	st, err := s.loader.State(r.Context())
	if err != nil {
		s.writeError(w, 503, err)
		return
	}
	s.writeJSON(w, 200, st)
}
