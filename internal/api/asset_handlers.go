package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/heybooks/heybooks-sync/internal/assets"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/http/response"
)

// AssetResponse is returned after an upload.
type AssetResponse struct {
	URL string `json:"url"`
	// Blurhash is set for decodable images.
	Blurhash string `json:"blurhash,omitempty"`
}

func (s *Server) registerAssetRoutes() {
	s.router.Route("/assets/{owner}/{category}/{file}", func(r chi.Router) {
		r.Get("/", s.handleGetAsset)
		r.With(RateLimitMiddleware(s.uploadLimiter, s.logger)).Put("/", s.handlePutAsset)
		r.Delete("/", s.handleDeleteAsset)
	})
}

func assetPath(r *http.Request) (assets.Path, error) {
	p := assets.Path{
		OwnerID:  chi.URLParam(r, "owner"),
		Category: chi.URLParam(r, "category"),
		FileName: chi.URLParam(r, "file"),
	}
	return p, p.Validate()
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	p, err := assetPath(r)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	data, err := s.files.Get(p)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	etag := assets.ETag(data)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", CacheOneDay)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("client disconnected during asset download", "path", p.String())
	}
}

func (s *Server) handlePutAsset(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := s.assetTarget(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, MaxUploadSize+1))
	if err != nil {
		response.BadRequest(w, "failed to read upload", s.logger)
		return
	}
	if len(data) > MaxUploadSize {
		response.Error(w, http.StatusRequestEntityTooLarge, "upload exceeds 10 MB", s.logger)
		return
	}

	url, err := s.files.Put(r.Context(), p, data, r.Header.Get("Content-Type"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	placeholder, err := assets.Placeholder(data)
	if err != nil {
		s.logger.Debug("no placeholder for asset", "path", p.String(), "error", err)
	}

	s.logger.Info("asset stored", "path", p.String(), "user_id", caller.Account.ID, "bytes", len(data))
	response.Created(w, AssetResponse{URL: url, Blurhash: placeholder}, s.logger)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	p, caller, ok := s.assetTarget(w, r)
	if !ok {
		return
	}

	if err := s.files.Delete(r.Context(), p); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	s.logger.Info("asset deleted", "path", p.String(), "user_id", caller.Account.ID)
	response.NoContent(w)
}

// assetTarget resolves the path of a write and checks that the caller owns it.
func (s *Server) assetTarget(w http.ResponseWriter, r *http.Request) (assets.Path, *Caller, bool) {
	p, err := assetPath(r)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return p, nil, false
	}
	caller, err := GetCaller(r.Context())
	if err != nil {
		response.HandleError(w, err, s.logger)
		return p, nil, false
	}
	if caller.Account.ID != p.OwnerID {
		response.HandleError(w, domainerrors.Forbidden("you can only change your own assets"), s.logger)
		return p, nil, false
	}
	return p, caller, true
}
