package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tripletake/tripletake/internal/auth"
	"github.com/tripletake/tripletake/internal/logger"
	"github.com/tripletake/tripletake/internal/merge"
	"github.com/tripletake/tripletake/internal/models"
	"github.com/tripletake/tripletake/internal/upload"
	"github.com/tripletake/tripletake/internal/validation"
)

// groupVideoDecl is the declared metadata for one statement video.
type groupVideoDecl struct {
	Size       int64  `json:"size"`
	MIMEType   string `json:"mime_type"`
	DurationMs int64  `json:"duration_ms"`
}

// createGroupRequest is the request body for POST /api/v1/groups
type createGroupRequest struct {
	Videos []groupVideoDecl `json:"videos"`
}

// handleCreateGroup creates a merge group and its three upload sessions
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerID(r.Context())

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, models.CodeInvalidMetadata, "invalid request body")
		return
	}

	greq := merge.GroupRequest{
		Sizes:       make([]int64, 0, len(req.Videos)),
		MIMETypes:   make([]string, 0, len(req.Videos)),
		DurationsMs: make([]int64, 0, len(req.Videos)),
	}
	for _, v := range req.Videos {
		greq.Sizes = append(greq.Sizes, v.Size)
		greq.MIMETypes = append(greq.MIMETypes, v.MIMEType)
		greq.DurationsMs = append(greq.DurationsMs, v.DurationMs)
	}

	result, err := s.orchestrator.Initiate(r.Context(), ownerID, greq)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	logger.Ctx(r.Context()).Info("group created",
		"group_id", result.GroupID,
		"owner_id", ownerID,
	)
	respondJSON(w, http.StatusCreated, result)
}

// handleGroupStatus returns the aggregate status of a merge group
func (s *Server) handleGroupStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerID(r.Context())
	groupID := chi.URLParam(r, "groupID")

	info, err := s.orchestrator.Status(r.Context(), groupID, ownerID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// handleCancelGroup cancels a merge group and all its member sessions
func (s *Server) handleCancelGroup(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerID(r.Context())
	groupID := chi.URLParam(r, "groupID")

	outcomes, err := s.orchestrator.Cancel(r.Context(), groupID, ownerID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	logger.Ctx(r.Context()).Info("group cancelled",
		"group_id", groupID,
		"owner_id", ownerID,
	)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"group_id": groupID,
		"status":   models.GroupCancelled,
		"sessions": outcomes,
	})
}

// replaceSlotRequest is the request body for POST /api/v1/groups/{groupID}/slots/{index}
type replaceSlotRequest struct {
	Size       int64  `json:"size"`
	MIMEType   string `json:"mime_type"`
	DurationMs int64  `json:"duration_ms"`
}

// handleReplaceSlot creates a replacement session for a cancelled or failed slot
func (s *Server) handleReplaceSlot(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := auth.OwnerID(r.Context())
	groupID := chi.URLParam(r, "groupID")

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, models.CodeIndexOutOfRange, "invalid slot index")
		return
	}

	var req replaceSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, models.CodeInvalidMetadata, "invalid request body")
		return
	}

	rec, err := s.orchestrator.ReplaceSlot(r.Context(), groupID, index, upload.Declared{
		Size:       req.Size,
		ChunkCount: validation.ExpectedChunkCount(req.Size),
		MIMEType:   req.MIMEType,
		DurationMs: req.DurationMs,
	}, ownerID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	logger.Ctx(r.Context()).Info("slot replaced",
		"group_id", groupID,
		"statement_index", index,
		"session_id", rec.ID,
	)
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"group_id":        groupID,
		"statement_index": index,
		"session_id":      rec.ID,
		"chunk_count":     rec.ChunkCount,
	})
}
