package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sags/camera"
)

// TriggerObjectDetected is the only trigger value the server acts on.
const TriggerObjectDetected = "object_detected"

const maxUpload = 32 << 20

// Request is the body of POST /trigger.
type Request struct {
	Trigger string `json:"trigger"`
}

// Response is the body of every reply.
type Response struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	File    string `json:"file,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FrameSource supplies the latest camera frame.
type FrameSource interface {
	Latest() ([]byte, time.Time, error)
}

type Dependencies struct {
	Logger *log.Logger
	Addr   string

	// /trigger: camera side
	Cooldown  *Cooldown
	Frames    FrameSource
	FramePath string
	OnFrame   func(ctx context.Context, path string) // runs in the background

	// /upload: gate side
	UploadDir string
	OnUpload  func(ctx context.Context, path string) // runs in the background
}

// Server answers POST /trigger and POST /upload. Either route is only
// registered when its dependencies are present.
type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	deps       Dependencies

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	if d.FramePath == "" {
		d.FramePath = "frame.jpg"
	}
	mux := http.NewServeMux()

	s := &Server{logger: d.Logger, deps: d}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())

	if d.Cooldown != nil && d.Frames != nil {
		mux.HandleFunc("POST /trigger", s.handleTrigger)
	}
	if d.UploadDir != "" {
		mux.HandleFunc("POST /upload", s.handleUpload)
	}

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           loggingMiddleware(d.Logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves until Shutdown; it returns nil after a clean shutdown.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then waits for background work.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.bgCancel()
	s.bg.Wait()
	return err
}

// Wait blocks until all background work started so far has finished.
func (s *Server) Wait() { s.bg.Wait() }

func (s *Server) background(fn func(ctx context.Context, path string), path string) {
	if fn == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(s.bgCtx, path)
	}()
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Trigger != TriggerObjectDetected {
		writeError(w, http.StatusBadRequest, "invalid trigger")
		return
	}

	if !s.deps.Cooldown.Allow() {
		s.logger.Printf("trigger ignored: cooldown, %s remaining", s.deps.Cooldown.Remaining().Round(time.Millisecond))
		writeError(w, http.StatusTooManyRequests, "trigger ignored (cooldown)")
		return
	}
	s.logger.Printf("trigger received: object detected")

	frame, _, err := s.deps.Frames.Latest()
	if err != nil {
		writeError(w, http.StatusBadRequest, "no frame available")
		return
	}
	if err := camera.WriteAtomic(s.deps.FramePath, frame); err != nil {
		s.logger.Printf("error saving frame: %v", err)
		writeError(w, http.StatusInternalServerError, "error saving frame")
		return
	}

	s.background(s.deps.OnFrame, s.deps.FramePath)
	writeJSON(w, http.StatusOK, Response{OK: true, Message: "trigger processed"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file part")
		return
	}
	defer file.Close()
	if hdr.Filename == "" {
		writeError(w, http.StatusBadRequest, "no selected file")
		return
	}

	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	if ext == "" {
		ext = ".jpg"
	}
	name := uuid.NewString() + ext
	path := filepath.Join(s.deps.UploadDir, name)

	n, err := saveUpload(path, file)
	if err != nil {
		s.logger.Printf("upload %s: %v", hdr.Filename, err)
		writeError(w, http.StatusInternalServerError, "error saving file")
		return
	}
	if n == 0 {
		os.Remove(path)
		writeError(w, http.StatusBadRequest, "empty file")
		return
	}
	s.logger.Printf("upload %s saved as %s (%d bytes)", hdr.Filename, path, n)

	s.background(s.deps.OnUpload, path)
	writeJSON(w, http.StatusOK, Response{OK: true, Message: fmt.Sprintf("file %s uploaded", hdr.Filename), File: name})
}

func saveUpload(path string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	return int64(len(data)), camera.WriteAtomic(path, data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, Response{OK: false, Error: msg})
}

func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s from=%s dur=%s", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}
