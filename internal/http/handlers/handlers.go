package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/diagnosis/gatekeeper-relay/internal/http/response"
	"github.com/diagnosis/gatekeeper-relay/internal/live"
	"github.com/diagnosis/gatekeeper-relay/internal/metrics"
	"github.com/diagnosis/gatekeeper-relay/internal/service"
	"github.com/diagnosis/gatekeeper-relay/internal/utils"
	"github.com/diagnosis/gatekeeper-relay/pkg/logger"
	"github.com/diagnosis/gatekeeper-relay/web"
	"github.com/go-chi/chi/v5"
)

const (
	bodyImageReceived = "Image Received"
	bodyNoFile        = "No File"
)

type Options struct {
	UploadDir      string
	ImageDir       string
	MaxUploadBytes int64
	ViewerBuffer   int
}

type Handler struct {
	capture service.CaptureService
	hub     *live.Hub
	metrics *metrics.Metrics
	opts    Options
}

func New(capture service.CaptureService, hub *live.Hub, m *metrics.Metrics, opts Options) *Handler {
	if opts.ViewerBuffer <= 0 {
		opts.ViewerBuffer = 16
	}
	return &Handler{capture: capture, hub: hub, metrics: m, opts: opts}
}

// Mount registers the relay routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/", h.Index)
	r.Post("/upload", h.Upload)
	r.Get("/uploads/{filename}", h.UploadedFile)
	r.Get("/images/{filename}", h.StaticImage)
	r.Handle("/live/*", h.Live())
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(web.IndexHTML)
}

// Upload stores the raw request body as the next camera image. The response
// only says whether bytes arrived; the naming outcome goes out on the ack
// subject.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(w, "image exceeds upload limit")
			return
		}
		logger.ErrorContext(r.Context(), "Failed to read upload body", "error", err)
		response.BadRequest(w, "could not read request body")
		return
	}
	if len(data) == 0 {
		h.metrics.Upload(metrics.UploadEmpty)
		response.Text(w, http.StatusBadRequest, bodyNoFile)
		return
	}

	if _, err := h.capture.SaveUpload(r.Context(), data); err != nil {
		logger.ErrorContext(r.Context(), "Upload could not be stored", "error", err)
	}
	response.Text(w, http.StatusOK, bodyImageReceived)
}

func (h *Handler) UploadedFile(w http.ResponseWriter, r *http.Request) {
	serveFile(w, r, h.opts.UploadDir)
}

func (h *Handler) StaticImage(w http.ResponseWriter, r *http.Request) {
	serveFile(w, r, h.opts.ImageDir)
}

// serveFile serves the {filename} URL parameter from dir. Names that could
// leave dir are refused before touching the file system.
func serveFile(w http.ResponseWriter, r *http.Request, dir string) {
	name, err := url.PathUnescape(chi.URLParam(r, "filename"))
	if err != nil || !utils.IsSafeFilename(name) {
		response.BadRequest(w, "invalid file name")
		return
	}

	f, err := os.Open(filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		response.NotFound(w, "file not found")
		return
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to open file", "file", name, "error", err)
		response.InternalError(w, "could not open file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to stat file", "file", name, "error", err)
		response.InternalError(w, "could not open file")
		return
	}
	if info.IsDir() {
		response.NotFound(w, "file not found")
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}
