package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heybooks/heybooks-sync/internal/docstore"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/http/response"
	"github.com/heybooks/heybooks-sync/internal/sse"
)

// PatchRequest is the body of a document PATCH.
type PatchRequest struct {
	Patches []docstore.Patch `json:"patches"`
}

// Documents are plain JSON, so these routes bypass huma and write the shared envelope directly.
func (s *Server) registerDocRoutes() {
	s.router.Route("/v1/docs/{collection}/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetDoc)
		r.Put("/", s.handleSetDoc)
		r.Patch("/", s.handlePatchDoc)
		r.Get("/stream", s.handleStreamDoc)
	})
}

func docAddress(r *http.Request) (docstore.Address, error) {
	addr := docstore.Address{
		Collection: chi.URLParam(r, "collection"),
		ID:         chi.URLParam(r, "id"),
	}
	return addr, addr.Validate()
}

func (s *Server) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	addr, err := docAddress(r)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	snap, err := s.docs.Get(r.Context(), addr)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, snap, s.logger)
}

func (s *Server) handleSetDoc(w http.ResponseWriter, r *http.Request) {
	addr, caller, ok := s.writeTarget(w, r)
	if !ok {
		return
	}
	if err := authorizeSet(caller, addr); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	var doc docstore.Document
	if err := decodeBody(r, &doc); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	if err := s.docs.Set(r.Context(), addr, doc); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	s.logger.Info("document set", "address", addr.String(), "user_id", caller.Account.ID)
	response.NoContent(w)
}

func (s *Server) handlePatchDoc(w http.ResponseWriter, r *http.Request) {
	addr, caller, ok := s.writeTarget(w, r)
	if !ok {
		return
	}

	var req PatchRequest
	if err := decodeBody(r, &req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	if len(req.Patches) == 0 {
		response.BadRequest(w, "at least one patch is required", s.logger)
		return
	}
	for _, p := range req.Patches {
		if err := p.Validate(); err != nil {
			response.HandleError(w, err, s.logger)
			return
		}
	}
	if err := authorizeUpdate(caller, addr, req.Patches); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	if err := s.docs.Update(r.Context(), addr, guardCatalogPatches(caller, addr, req.Patches)...); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	s.logger.Info("document patched", "address", addr.String(), "user_id", caller.Account.ID, "patches", len(req.Patches))
	response.NoContent(w)
}

// handleStreamDoc sends the current snapshot and every later one as SSE
// until the client goes away.
func (s *Server) handleStreamDoc(w http.ResponseWriter, r *http.Request) {
	addr, err := docAddress(r)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	ctx := r.Context()
	events, err := s.docs.Watch(ctx, addr)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	stream, err := sse.NewWriter(w, s.logger)
	if err != nil {
		s.logger.Error("failed to open stream", "error", err)
		return
	}

	streamLogger := s.logger.With("address", addr.String())
	streamLogger.Debug("document stream opened")

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				streamLogger.Debug("document stream closed by store")
				return
			}
			if err := s.sendDocEvent(stream, ev); err != nil {
				// Client disconnect is normal, not an error condition.
				streamLogger.Debug("client disconnected during send")
				return
			}

		case <-heartbeat.C:
			if err := stream.Heartbeat(); err != nil {
				streamLogger.Debug("client disconnected during heartbeat")
				return
			}

		case <-ctx.Done():
			streamLogger.Debug("document stream closed by client")
			return
		}
	}
}

func (s *Server) sendDocEvent(stream *sse.Writer, ev docstore.Event) error {
	if ev.Err == nil {
		return stream.Send(sse.EventSnapshot, ev.Snapshot)
	}

	envelope := response.Envelope{Error: ev.Err.Error(), Code: string(domainerrors.CodeListenFailed)}
	var domainErr *domainerrors.Error
	if errors.As(ev.Err, &domainErr) {
		envelope.Error = domainErr.Message
		envelope.Code = string(domainErr.Code)
	}
	return stream.Send(sse.EventError, envelope)
}

// writeTarget resolves the address and the authenticated caller of a write.
func (s *Server) writeTarget(w http.ResponseWriter, r *http.Request) (docstore.Address, *Caller, bool) {
	addr, err := docAddress(r)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return addr, nil, false
	}
	caller, err := GetCaller(r.Context())
	if err != nil {
		response.HandleError(w, err, s.logger)
		return addr, nil, false
	}
	return addr, caller, true
}

func decodeBody(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, MaxDocumentSize+1)
	raw, err := io.ReadAll(body)
	if err != nil {
		return domainerrors.Validationf("read body: %v", err)
	}
	if len(raw) > MaxDocumentSize {
		return domainerrors.Validation("request body too large")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domainerrors.Validationf("invalid JSON body: %v", err)
	}
	return nil
}
