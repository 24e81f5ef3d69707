// Package handler exposes portfolio create, read, update and delete over
// HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/portfolio"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/portfolio/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/logger"
)

const defaultMaxUpload = 10 << 20

// Service is the lifecycle surface the handler drives.
type Service interface {
	Create(ctx context.Context, userID int64, req *portfolio.Request, image *portfolio.Image) (*portfolio.Portfolio, error)
	Update(ctx context.Context, userID, id int64, req *portfolio.Request, image *portfolio.Image) (*portfolio.Portfolio, error)
	Delete(ctx context.Context, userID, id int64) error
	Get(ctx context.Context, id int64) (*portfolio.Portfolio, error)
}

type Handler struct {
	svc       Service
	maxUpload int64
	logger    *slog.Logger
}

// New creates a Handler. maxUpload bounds the multipart body; zero applies
// a 10 MiB default.
func New(svc Service, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &Handler{
		svc:       svc,
		maxUpload: maxUpload,
		logger:    logger.WithComponent("portfolio-handler"),
	}
}

// Register mounts the routes on mux. protect wraps the routes that need an
// authenticated caller.
//
//	POST   /api/portfolios       create (auth)
//	GET    /api/portfolios/{id}  get
//	PUT    /api/portfolios/{id}  update (auth)
//	DELETE /api/portfolios/{id}  delete (auth)
func (h *Handler) Register(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("POST /api/portfolios", protect(http.HandlerFunc(h.Create)))
	mux.HandleFunc("GET /api/portfolios/{id}", h.Get)
	mux.Handle("PUT /api/portfolios/{id}", protect(http.HandlerFunc(h.Update)))
	mux.Handle("DELETE /api/portfolios/{id}", protect(http.HandlerFunc(h.Delete)))
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	req, image, err := h.parseForm(w, r)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	defer closeImage(image)

	p, err := h.svc.Create(r.Context(), user.ID, req, image)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/portfolios/"+strconv.FormatInt(p.ID, 10))
	h.writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	req, image, err := h.parseForm(w, r)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	defer closeImage(image)

	p, err := h.svc.Update(r.Context(), user.ID, id, req, image)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), user.ID, id); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseForm reads the multipart body: a "data" part holding the JSON request
// and an optional "image" file part. Plain JSON bodies are accepted too.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) (*portfolio.Request, *portfolio.Image, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	var req portfolio.Request
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, nil, bodyError(err)
		}
		if err := validator.ValidateRequest(&req); err != nil {
			return nil, nil, err
		}
		return &req, nil, nil
	}

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return nil, nil, bodyError(err)
	}
	data := r.FormValue("data")
	if data == "" {
		return nil, nil, apperrors.Invalid("multipart part \"data\" is required")
	}
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, nil, apperrors.Invalid("invalid JSON in \"data\"")
	}
	if err := validator.ValidateRequest(&req); err != nil {
		return nil, nil, err
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return &req, nil, nil
	}
	if err != nil {
		return nil, nil, apperrors.Invalid("invalid image part")
	}
	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		file.Close()
		return nil, nil, apperrors.Invalid("image must have an image/* content type")
	}
	return &req, &portfolio.Image{
		Reader:      file,
		Size:        header.Size,
		ContentType: contentType,
		Filename:    header.Filename,
	}, nil
}

func closeImage(image *portfolio.Image) {
	if image == nil {
		return
	}
	if c, ok := image.Reader.(io.Closer); ok {
		c.Close()
	}
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge, "request body too large")
	}
	return apperrors.Invalid("invalid request body")
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid portfolio id")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("portfolio request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	h.writeError(w, status, apperrors.PublicMessage(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
