// Package daemon implements the print daemon's HTTP surface: render
// creation, preview fetch, print submission, and job status/wait,
// backed by an in-memory render cache and a single-consumer print
// worker.
package daemon

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rusq/httpex"
	"golang.org/x/image/font"
	"tinygo.org/x/bluetooth"

	"github.com/kilobyte-labs/funnyprint/ble"
	"github.com/kilobyte-labs/funnyprint/fontmgr"
	"github.com/kilobyte-labs/funnyprint/raster"
	"github.com/kilobyte-labs/funnyprint/wire"
)

const (
	minScanSeconds, maxScanSeconds, defaultScanSeconds = 1, 15, 3
	minWaitSeconds, maxWaitSeconds, defaultWaitSeconds  = 1, 120, 20
	waitPollInterval                                    = 300 * time.Millisecond
	defaultLineSpacing                       float64    = 1.0
)

// Server is the print daemon's HTTP API. Construct with New, then
// call ListenAndServe.
type Server struct {
	store          *Store
	worker         *Worker
	adapter        *bluetooth.Adapter
	apiToken       string
	defaultAddress string

	srv *http.Server
}

// Option configures Server at construction time.
type Option func(*Server)

// WithAPIToken requires the given shared secret on mutating
// endpoints via the X-Api-Token header. Empty means no auth.
func WithAPIToken(token string) Option {
	return func(s *Server) { s.apiToken = token }
}

// WithDefaultAddress sets the printer address used when a print
// request and its render both omit one.
func WithDefaultAddress(addr string) Option {
	return func(s *Server) { s.defaultAddress = addr }
}

// New builds a Server backed by store, worker, and adapter (used for
// the scan endpoint).
func New(store *Store, worker *Worker, adapter *bluetooth.Adapter, opts ...Option) *Server {
	s := &Server{store: store, worker: worker, adapter: adapter}
	for _, opt := range opts {
		opt(s)
	}

	m := http.NewServeMux()
	m.HandleFunc("GET /health", s.handleHealth)
	m.HandleFunc("GET /api/v1/printers/scan", s.handleScan)
	m.HandleFunc("POST /api/v1/renders/text", s.authenticated(s.handleRenderText))
	m.HandleFunc("POST /api/v1/renders/image", s.authenticated(s.handleRenderImage))
	m.HandleFunc("GET /api/v1/renders/{id}/preview", s.handlePreview)
	m.HandleFunc("POST /api/v1/print", s.authenticated(s.handlePrint))
	m.HandleFunc("GET /api/v1/jobs/{id}", s.handleGetJob)
	m.HandleFunc("GET /api/v1/jobs/{id}/wait", s.handleWaitJob)

	s.srv = &http.Server{
		Handler: httpex.LogMiddleware(m, log.Default()),
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	s.srv.Addr = addr
	slog.Info("daemon listening", "address", addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// authenticated wraps h, requiring X-Api-Token to match s.apiToken
// when one is configured. Constant-time compare avoids leaking the
// token length/prefix via timing.
func (s *Server) authenticated(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken == "" {
			h(w, r)
			return
		}
		got := r.Header.Get("X-Api-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiToken)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("missing or invalid X-Api-Token"))
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	seconds := clampInt(queryInt(r, "seconds", defaultScanSeconds), minScanSeconds, maxScanSeconds)

	peripherals, err := ble.Scan(r.Context(), s.adapter, time.Duration(seconds)*time.Second)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("ble scan: %w", err))
		return
	}
	out := make([]PrinterInfo, 0, len(peripherals))
	for _, p := range peripherals {
		out = append(out, PrinterInfo{Address: p.Address, Name: p.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRenderText(w http.ResponseWriter, r *http.Request) {
	var req textRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.WidthPx <= 0 || req.WidthPx > wire.DotsPerLine {
		writeError(w, http.StatusBadRequest, fmt.Errorf("width_px must be in (0, %d]", wire.DotsPerLine))
		return
	}
	if req.Density > 7 {
		writeError(w, http.StatusBadRequest, errors.New("density must be 0..7"))
		return
	}
	if len(strings.TrimSpace(req.Text)) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("text must not be empty"))
		return
	}
	if req.LineSpacing <= 0 {
		req.LineSpacing = defaultLineSpacing
	}
	if req.Threshold == 0 {
		req.Threshold = raster.DefaultThreshold
	}

	face, err := resolveFace(req.Font, req.FontSizeMinPx, req.FontSizeMaxPx, req.WidthPx, req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	numLines := len(strings.Split(req.Text, "\n"))
	heightPx := numLines * raster.LineHeightPx(face, req.LineSpacing)

	img, err := raster.RenderText(req.Text, face, raster.TextOptions{
		WidthPx:     req.WidthPx,
		HeightPx:    heightPx,
		LineSpacing: req.LineSpacing,
		Threshold:   req.Threshold,
		Invert:      req.Invert,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	lines := raster.Pack(img, raster.ThresholdInk(req.Threshold))
	if req.TrimBlank {
		lines = raster.TrimBlank(lines)
	}
	if len(lines) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("render produced no ink"))
		return
	}

	s.finishRender(w, img, lines, req.Density, req.AddressOverride)
}

func (s *Server) handleRenderImage(w http.ResponseWriter, r *http.Request) {
	var req imageRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.WidthPx <= 0 || req.WidthPx > wire.DotsPerLine {
		writeError(w, http.StatusBadRequest, fmt.Errorf("width_px must be in (0, %d]", wire.DotsPerLine))
		return
	}
	if req.Density > 7 {
		writeError(w, http.StatusBadRequest, errors.New("density must be 0..7"))
		return
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.ImageBase64))
	if err != nil || len(raw) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("image_base64 must be non-empty valid base64"))
		return
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("image_base64 does not decode as an image: %w", err))
		return
	}
	if req.Threshold == 0 {
		req.Threshold = raster.DefaultThreshold
	}

	resized, err := raster.ResizeForPrint(src, req.WidthPx, req.MaxHeightPx)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var bw image.Image
	if req.Dither != "" {
		ditherFn, ok := raster.DitherFunction(req.Dither)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown dither %q, must be one of %v", req.Dither, raster.AllDitherFunctions()))
			return
		}
		bw = ditherFn(resized, raster.DefaultGamma)
	} else {
		method := raster.MethodThreshold
		if req.Method == "floyd-steinberg" {
			method = raster.MethodFloydSteinberg
		}
		bw = raster.Binarize(resized, method, req.Threshold, req.Invert)
	}

	lines := raster.Pack(bw, raster.BinarizedInk)
	if req.TrimBlank {
		lines = raster.TrimBlank(lines)
	}
	if len(lines) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("render produced no ink"))
		return
	}

	s.finishRender(w, bw, lines, req.Density, req.AddressOverride)
}

func (s *Server) finishRender(w http.ResponseWriter, preview image.Image, lines []wire.PackedLine, density uint8, addressOverride string) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, preview); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	id := s.store.PutRender(&RenderArtifact{
		PreviewPNG:      buf.Bytes(),
		Lines:           lines,
		Density:         density,
		AddressOverride: addressOverride,
	})
	writeJSON(w, http.StatusOK, renderResponse{
		ID:         id,
		Lines:      len(lines),
		Density:    density,
		PreviewURL: "/api/v1/renders/" + id + "/preview",
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	render, ok := s.store.GetRender(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("render %s not found", id))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(render.PreviewPNG)
}

func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	var req printRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	render, ok := s.store.GetRender(req.RenderID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("render %s not found", req.RenderID))
		return
	}

	address := req.Address
	if address == "" {
		address = render.AddressOverride
	}
	if address == "" {
		address = s.defaultAddress
	}
	if address == "" {
		writeError(w, http.StatusBadRequest, errors.New("no printer address: request, render, and daemon default are all empty"))
		return
	}

	jobID := s.store.PutJob(&Job{
		RenderID: req.RenderID,
		Address:  address,
		Density:  render.Density,
	})
	if err := s.worker.Enqueue(jobID); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, printResponse{JobID: jobID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.store.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("job %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (s *Server) handleWaitJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.store.GetJob(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("job %s not found", id))
		return
	}

	seconds := clampInt(queryInt(r, "timeout_seconds", defaultWaitSeconds), minWaitSeconds, maxWaitSeconds)
	deadline := time.Now().Add(time.Duration(seconds) * time.Second)

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		job, _ := s.store.GetJob(id)
		if job.Status.Terminal() {
			writeJSON(w, http.StatusOK, newJobResponse(job))
			return
		}
		if !time.Now().Before(deadline) {
			writeJSON(w, http.StatusAccepted, newJobResponse(job))
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// resolveFace picks a font.Face for a text render: a TrueType file
// path goes through the binary-search size fitter, anything else
// (including empty) resolves to a fixed-size embedded bitmap face,
// for which fitting is meaningless.
func resolveFace(fontSpec string, minSize, maxSize float64, widthPx int, text string) (font.Face, error) {
	if fontSpec == "" {
		return fontmgr.DefaultFont, nil
	}
	lower := strings.ToLower(fontSpec)
	if strings.HasSuffix(lower, ".ttf") || strings.HasSuffix(lower, ".otf") {
		if minSize <= 0 {
			minSize = 8
		}
		if maxSize <= 0 {
			maxSize = 64
		}
		factory := func(size float64) (font.Face, error) {
			return fontmgr.LoadTTF(fontSpec, size, 72) // 72 DPI: one point per pixel
		}
		result, err := raster.FitFontSize(strings.Split(text, "\n"), minSize, maxSize, widthPx, factory)
		if err != nil {
			return nil, err
		}
		return result.Face, nil
	}
	return fontmgr.LoadByName("", fontSpec)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	slog.Warn("request failed", "status", status, "error", err)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
