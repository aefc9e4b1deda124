package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/solai17/bytefeed/internal/engage"
	"github.com/solai17/bytefeed/internal/feed"
	"github.com/solai17/bytefeed/internal/ingest"
	payloadschema "github.com/solai17/bytefeed/schema"
)

// maxDocumentBody bounds inbound document payloads.
const maxDocumentBody = 4 << 20

func (s *Server) handleIngestDocument(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxDocumentBody+1))
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not read request body"})
	}
	if len(raw) > maxDocumentBody {
		return fail(c, http.StatusRequestEntityTooLarge, "Document too large", nil)
	}

	doc, err := payloadschema.ValidateInboundDocument(raw)
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	req := ingest.RequestFromDocument(doc)
	if req.UserID == "" {
		req.UserID = callerID(c)
	}

	result, err := s.ingestor.IngestDocument(c.Request().Context(), req)
	if err != nil {
		s.logger.Error().Err(err).Msg("ingest document failed")
		return internalError(c, "Failed to ingest document")
	}

	if result.IsDuplicate {
		return success(c, result)
	}
	return successWithStatus(c, http.StatusCreated, result)
}

func (s *Server) handleProcessBatch(c echo.Context) error {
	report, err := s.queue.ProcessBatch(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("process batch failed")
		return internalError(c, "Failed to process batch")
	}
	return success(c, report)
}

func (s *Server) handleQueueStats(c echo.Context) error {
	stats, err := s.queue.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query queue stats failed")
		return internalError(c, "Failed to load queue stats")
	}
	return success(c, stats)
}

func (s *Server) handleResetFailed(c echo.Context) error {
	count, err := s.queue.ResetFailed(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("reset failed editions failed")
		return internalError(c, "Failed to reset failed editions")
	}
	return success(c, map[string]any{"reset": count})
}

func (s *Server) handleFeedPage(c echo.Context) error {
	userID := callerID(c)
	if userID == "" {
		return failValidation(c, map[string]string{userHeader: "is required"})
	}

	mode, err := feed.ParseMode(strings.TrimSpace(c.QueryParam("mode")))
	if err != nil {
		return failValidation(c, map[string]string{"mode": err.Error()})
	}

	pageSize := 0
	if raw := strings.TrimSpace(c.QueryParam("page_size")); raw != "" {
		pageSize, err = strconv.Atoi(raw)
		if err != nil || pageSize <= 0 {
			return failValidation(c, map[string]string{"page_size": "must be a positive integer"})
		}
	}

	page, err := s.feed.Page(c.Request().Context(), userID, mode, pageSize, c.QueryParam("cursor"))
	if err != nil {
		if errors.Is(err, feed.ErrBadCursor) {
			return failValidation(c, map[string]string{"cursor": err.Error()})
		}
		s.logger.Error().Err(err).Str("mode", string(mode)).Msg("feed page failed")
		return internalError(c, "Failed to load feed")
	}
	return success(c, page)
}

func (s *Server) handleFeedNext(c echo.Context) error {
	userID := callerID(c)
	if userID == "" {
		return failValidation(c, map[string]string{userHeader: "is required"})
	}

	next, err := s.feed.Next(c.Request().Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Msg("feed next failed")
		return internalError(c, "Failed to load next item")
	}
	return success(c, next)
}

type voteRequest struct {
	Value int `json:"value"`
}

func (s *Server) handleVote(c echo.Context) error {
	userID := callerID(c)
	if userID == "" {
		return failValidation(c, map[string]string{userHeader: "is required"})
	}

	var payload voteRequest
	if err := decodeJSONBody(c, &payload); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	result, err := s.engage.Vote(c.Request().Context(), userID, c.Param("byte_uuid"), payload.Value)
	if err != nil {
		switch {
		case errors.Is(err, engage.ErrInvalidVote):
			return failValidation(c, map[string]string{"value": "must be -1, 0 or 1"})
		case errors.Is(err, engage.ErrByteNotFound):
			return failNotFound(c, "Content byte not found")
		default:
			s.logger.Error().Err(err).Msg("vote failed")
			return internalError(c, "Failed to record vote")
		}
	}
	return success(c, result)
}

type viewRequest struct {
	DwellTimeMS int64 `json:"dwell_time_ms"`
	// Omitted means the view consumed the byte.
	IsRead *bool `json:"is_read"`
}

func (s *Server) handleView(c echo.Context) error {
	userID := callerID(c)
	if userID == "" {
		return failValidation(c, map[string]string{userHeader: "is required"})
	}

	var payload viewRequest
	if err := decodeJSONBody(c, &payload); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	markRead := payload.IsRead == nil || *payload.IsRead
	if err := s.engage.View(c.Request().Context(), userID, c.Param("byte_uuid"), payload.DwellTimeMS, markRead); err != nil {
		if errors.Is(err, engage.ErrByteNotFound) {
			return failNotFound(c, "Content byte not found")
		}
		s.logger.Error().Err(err).Msg("view failed")
		return internalError(c, "Failed to record view")
	}
	return success(c, map[string]any{"recorded": true})
}

func (s *Server) handleToggleSave(c echo.Context) error {
	userID := callerID(c)
	if userID == "" {
		return failValidation(c, map[string]string{userHeader: "is required"})
	}

	saved, err := s.engage.ToggleSave(c.Request().Context(), userID, c.Param("byte_uuid"))
	if err != nil {
		if errors.Is(err, engage.ErrByteNotFound) {
			return failNotFound(c, "Content byte not found")
		}
		s.logger.Error().Err(err).Msg("toggle save failed")
		return internalError(c, "Failed to toggle save")
	}
	return success(c, map[string]any{"is_saved": saved})
}

func callerID(c echo.Context) string {
	if id := strings.TrimSpace(c.Request().Header.Get(userHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(c.QueryParam("user_id"))
}

func decodeJSONBody(c echo.Context, out any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("request body is not valid JSON")
	}
	return nil
}
