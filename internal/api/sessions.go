package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tripletake/tripletake/internal/auth"
	"github.com/tripletake/tripletake/internal/logger"
	"github.com/tripletake/tripletake/internal/models"
	"github.com/tripletake/tripletake/internal/validation"
)

// handlePutChunk stores one chunk of an upload session. The raw chunk bytes
// are the request body; zstd Content-Encoding is handled by middleware.
func (s *Server) handlePutChunk(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerID(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, models.CodeIndexOutOfRange, "invalid chunk index")
		return
	}

	// Reject oversized bodies before buffering. One extra byte so a body
	// exactly at the limit is distinguishable from one exceeding it.
	r.Body = http.MaxBytesReader(w, r.Body, validation.ChunkSize+1)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, models.CodeInvalidMetadata, "chunk exceeds maximum chunk size")
			return
		}
		respondError(w, http.StatusBadRequest, models.CodeInvalidMetadata, "failed to read chunk body")
		return
	}

	info, err := s.uploads.PutChunk(r.Context(), sessionID, index, data, ownerID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// completeSessionRequest is the request body for POST /api/v1/sessions/{sessionID}/complete
type completeSessionRequest struct {
	Hash string `json:"hash"`
}

// handleCompleteSession finalizes an upload session. The response includes
// the group status read after the completion notification, so a merge that
// finishes synchronously is already visible to the caller.
func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerID(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	var req completeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, models.CodeInvalidMetadata, "invalid request body")
		return
	}
	if req.Hash == "" {
		respondError(w, http.StatusBadRequest, models.CodeInvalidMetadata, "hash is required")
		return
	}

	rec, err := s.uploads.Complete(r.Context(), sessionID, req.Hash, ownerID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	groupStatus := ""
	if info, err := s.orchestrator.Status(r.Context(), rec.GroupID, ownerID); err == nil {
		groupStatus = string(info.Status)
	}

	logger.Ctx(r.Context()).Info("session completed",
		"session_id", sessionID,
		"group_id", rec.GroupID,
		"group_status", groupStatus,
	)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":   rec.ID,
		"status":       rec.Status,
		"group_id":     rec.GroupID,
		"group_status": groupStatus,
	})
}

// handleCancelSession cancels a single upload session
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerID(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.uploads.Cancel(r.Context(), sessionID, ownerID); err != nil {
		respondDomainError(w, r, err)
		return
	}

	logger.Ctx(r.Context()).Info("session cancelled", "session_id", sessionID)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"status":     models.SessionCancelled,
	})
}

// handleSessionStatus returns progress for one upload session
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerID(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	info, err := s.uploads.Status(r.Context(), sessionID, ownerID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}
