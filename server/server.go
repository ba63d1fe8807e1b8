// Package server - HTTP front end for the detection pipeline.
package server

import (
	"encoding/base64"
	"encoding/json"
	"image"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-yolov2/images"
	"github.com/nvr-ai/go-yolov2/models"
	"github.com/nvr-ai/go-yolov2/pipeline"
	"github.com/nvr-ai/go-yolov2/profiler"
)

// Config controls the HTTP listener.
type Config struct {
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"readtimeout"`
	WriteTimeout time.Duration `koanf:"writetimeout"`
	// MaxBodyBytes caps request bodies and multipart uploads.
	MaxBodyBytes int64 `koanf:"maxbodybytes"`
}

// Detection is one detection in source image pixels.
type Detection struct {
	Label string     `json:"label"`
	Class int        `json:"class"`
	Score float32    `json:"score"`
	Box   [4]float32 `json:"box"`
}

// DetectResponse is the body returned by POST /detect.
type DetectResponse struct {
	RequestID  string      `json:"request_id"`
	Format     string      `json:"format"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Detections []Detection `json:"detections"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server serves detections over HTTP.
type Server struct {
	cfg    Config
	pl     *pipeline.Pipeline
	labels models.Labels
	prof   *profiler.Profiler
	log    *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithProfiler exposes p on GET /metrics and times each request under
// "request".
func WithProfiler(p *profiler.Profiler) Option {
	return func(s *Server) {
		s.prof = p
	}
}

// New returns a server running pl and naming classes with labels.
func New(cfg Config, pl *pipeline.Pipeline, labels models.Labels, opts ...Option) *Server {
	s := &Server{cfg: cfg, pl: pl, labels: labels, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the routes of the server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	return r
}

// HTTPServer returns an http.Server for the router and the configured
// listener settings.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Handler:      s.Router(),
		Addr:         s.cfg.Addr,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if s.prof != nil {
		defer s.prof.StartOperation("request")()
	}
	requestID := uuid.NewString()
	log := s.log.With(zap.String("request_id", requestID))

	if s.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	body, err := s.readImage(r)
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	img, format, err := images.Decode(body)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, images.ErrUnsupportedFormat) {
			code = http.StatusUnsupportedMediaType
		}
		sendErrorResponse(w, "invalid_image", err.Error(), code)
		return
	}

	results, err := s.pl.Detect([]image.Image{img})
	if err != nil {
		log.Error("detection failed", zap.Error(err))
		sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
		return
	}

	b := img.Bounds()
	resp := DetectResponse{
		RequestID:  requestID,
		Format:     string(format),
		Width:      b.Dx(),
		Height:     b.Dy(),
		Detections: make([]Detection, 0, len(results[0])),
	}
	for _, res := range results[0] {
		resp.Detections = append(resp.Detections, Detection{
			Label: s.labels.Name(res.Class),
			Class: res.Class,
			Score: res.Score,
			Box:   [4]float32{res.Box.X1, res.Box.Y1, res.Box.X2, res.Box.Y2},
		})
	}
	log.Debug("detections",
		zap.String("format", resp.Format),
		zap.Int("count", len(resp.Detections)))
	sendJSON(w, http.StatusOK, resp)
}

// readImage extracts the image bytes from a raw, multipart ("file" field) or
// JSON ({"image": <base64>}) body.
func (s *Server) readImage(r *http.Request) ([]byte, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}
	switch mediaType {
	case "application/json":
		var req struct {
			Image string `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errors.Wrap(err, "invalid json body")
		}
		b, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			return nil, errors.Wrap(err, "invalid base64 image")
		}
		return b, nil
	case "multipart/form-data":
		maxMemory := s.cfg.MaxBodyBytes
		if maxMemory <= 0 {
			maxMemory = 10 << 20
		}
		if err := r.ParseMultipartForm(maxMemory); err != nil {
			return nil, errors.Wrap(err, "invalid multipart body")
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.Wrap(err, "missing file field")
		}
		defer file.Close()
		return io.ReadAll(file)
	default:
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read body")
		}
		return b, nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	ops := map[string]any{}
	if s.prof != nil {
		for _, st := range s.prof.Snapshot() {
			ops[st.Name] = map[string]any{
				"count":   st.Count,
				"samples": st.Samples,
				"mean_ms": float64(st.Mean) / float64(time.Millisecond),
				"min_ms":  float64(st.Min) / float64(time.Millisecond),
				"max_ms":  float64(st.Max) / float64(time.Millisecond),
			}
		}
	}
	sendJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
