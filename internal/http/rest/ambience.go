package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/ambience_downloader/internal/logctx"
	"github.com/italolelis/ambience_downloader/internal/transfer"
)

// Manager is the set of ambience operations exposed over HTTP.
type Manager interface {
	ThumbnailPath(name string) string
	HasThumbnail(name string) bool
	SaveThumbnail(url, name string) *transfer.Pending
	CancelThumbnail(id uint64) bool
	SaveFullImage(ctx context.Context, url, name string) (*transfer.Pending, error)
	SaveImageToGallery(ctx context.Context, name string) (string, error)
	SaveImageToGalleryAndApplyAmbience(ctx context.Context, name string) (string, error)
	ThumbnailQueueLen() int
	ThumbnailActive() bool
	ActiveFullImage() (string, bool)
	ExportedImages() []string
}

type SaveRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

type SaveResponse struct {
	ID    uint64         `json:"id"`
	Event *EventResponse `json:"event,omitempty"`
}

type EventResponse struct {
	Type  transfer.EventType `json:"type"`
	Name  string             `json:"name"`
	File  string             `json:"file,omitempty"`
	Path  string             `json:"path,omitempty"`
	Error string             `json:"error,omitempty"`
	At    time.Time          `json:"at"`
}

type ThumbnailResponse struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

type GalleryResponse struct {
	Saved bool   `json:"saved"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

type StatusResponse struct {
	QueuedThumbnails int      `json:"queued_thumbnails"`
	ThumbnailActive  bool     `json:"thumbnail_active"`
	FullImageActive  bool     `json:"full_image_active"`
	ActiveFullImage  string   `json:"active_full_image,omitempty"`
	Exported         []string `json:"exported"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type AmbienceHandler struct {
	username string
	password string
	manager  Manager
}

// NewAmbienceHandler creates the control API. Basic auth is enforced only when
// username is not empty.
func NewAmbienceHandler(username, password string, m Manager) *AmbienceHandler {
	return &AmbienceHandler{
		username: username,
		password: password,
		manager:  m,
	}
}

func (h *AmbienceHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.HandleHealth)

	r.Group(func(r chi.Router) {
		if h.username != "" {
			r.Use(h.basicAuthMiddleware)
		}

		r.Get("/status", h.HandleStatus)
		r.Get("/thumbnails/{name}", h.HandleGetThumbnail)
		r.Post("/thumbnails", h.HandleSaveThumbnail)
		r.Delete("/thumbnails/queue/{id}", h.HandleCancelThumbnail)
		r.Post("/full-images", h.HandleSaveFullImage)
		r.Post("/gallery/{name}", h.HandleSaveToGallery)
	})

	return r
}

func (h *AmbienceHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus reports the thumbnail queue, the full image slot and the
// gallery copies that will be deleted on shutdown.
func (h *AmbienceHandler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	name, active := h.manager.ActiveFullImage()

	exported := h.manager.ExportedImages()
	if exported == nil {
		exported = []string{}
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		QueuedThumbnails: h.manager.ThumbnailQueueLen(),
		ThumbnailActive:  h.manager.ThumbnailActive(),
		FullImageActive:  active,
		ActiveFullImage:  name,
		Exported:         exported,
	})
}

func (h *AmbienceHandler) HandleGetThumbnail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	writeJSON(w, http.StatusOK, ThumbnailResponse{
		Path:   h.manager.ThumbnailPath(name),
		Exists: h.manager.HasThumbnail(name),
	})
}

// HandleSaveThumbnail queues a thumbnail. With ?wait=true it answers once the
// thumbnail is written or has failed.
func (h *AmbienceHandler) HandleSaveThumbnail(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSaveRequest(w, r)
	if !ok {
		return
	}

	h.respondPending(w, r, h.manager.SaveThumbnail(req.URL, req.Name))
}

func (h *AmbienceHandler) HandleCancelThumbnail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request id"})

		return
	}

	if !h.manager.CancelThumbnail(id) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "request is not queued"})

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AmbienceHandler) HandleSaveFullImage(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSaveRequest(w, r)
	if !ok {
		return
	}

	pending, err := h.manager.SaveFullImage(r.Context(), req.URL, req.Name)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Warn("full image rejected", "name", req.Name, "err", err)
		writeJSON(w, errorStatus(err), errorResponse{Error: err.Error()})

		return
	}

	h.respondPending(w, r, pending)
}

// HandleSaveToGallery exports a cached full image. ?apply=true also makes it
// the current ambience.
func (h *AmbienceHandler) HandleSaveToGallery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	export := h.manager.SaveImageToGallery

	if apply, _ := strconv.ParseBool(r.URL.Query().Get("apply")); apply {
		export = h.manager.SaveImageToGalleryAndApplyAmbience
	}

	path, err := export(r.Context(), name)
	if err != nil {
		writeJSON(w, errorStatus(err), GalleryResponse{Saved: false, Error: err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, GalleryResponse{Saved: true, Path: path})
}

func (h *AmbienceHandler) respondPending(w http.ResponseWriter, r *http.Request, pending *transfer.Pending) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		select {
		case <-pending.Done():
			// Already resolved, e.g. after shutdown.
			if ev := pending.Event(); ev.Err != nil {
				writeJSON(w, errorStatus(ev.Err), SaveResponse{ID: pending.ID(), Event: toEventResponse(ev)})

				return
			}
		default:
		}

		writeJSON(w, http.StatusAccepted, SaveResponse{ID: pending.ID()})

		return
	}

	ev, err := pending.Wait(r.Context())
	if err != nil && r.Context().Err() != nil {
		writeJSON(w, http.StatusGatewayTimeout, SaveResponse{ID: pending.ID()})

		return
	}

	status := http.StatusOK
	if ev.Err != nil {
		status = errorStatus(ev.Err)
	}

	writeJSON(w, status, SaveResponse{ID: pending.ID(), Event: toEventResponse(ev)})
}

func (h *AmbienceHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if !equal(username, h.username) || !equal(password, h.password) {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func equal(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func decodeSaveRequest(w http.ResponseWriter, r *http.Request) (SaveRequest, bool) {
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to decode request", "err", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})

		return req, false
	}

	if req.URL == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "url and name are required"})

		return req, false
	}

	return req, true
}

// errorStatus maps the error kinds of the transfer package to HTTP statuses.
func errorStatus(err error) int {
	var (
		fetchErr  *transfer.FetchError
		decodeErr *transfer.DecodeError
	)

	switch {
	case errors.Is(err, transfer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transfer.ErrBusy), errors.Is(err, transfer.ErrCanceled):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrClosed), errors.Is(err, transfer.ErrAborted):
		return http.StatusServiceUnavailable
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func toEventResponse(ev transfer.Event) *EventResponse {
	resp := &EventResponse{
		Type: ev.Type,
		Name: ev.Name,
		File: ev.File,
		Path: ev.Path,
		At:   ev.At,
	}

	if ev.Err != nil {
		resp.Error = ev.Err.Error()
	}

	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
