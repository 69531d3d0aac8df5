package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mailtriage/internal/conversation"
	"github.com/mailtriage/internal/jobqueue"
	"github.com/mailtriage/internal/slack"
	"github.com/mailtriage/pkg/models"
)

const maxEventBody = 1 << 20

type transcriptResponse struct {
	Item  *models.Item       `json:"item"`
	State string             `json:"state"`
	Lines []*models.ChatLine `json:"lines"`
}

// POST /slack/events
func (s *Server) slackEvents(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxEventBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read body"})
	}

	event, challenge, err := slack.ParseEvents(c.Request().Header, body, s.secret)
	if errors.Is(err, slack.ErrBadSignature) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if challenge != "" {
		return c.String(http.StatusOK, challenge)
	}

	if err := s.router.HandleEvent(c.Request().Context(), event); err != nil {
		return s.enqueueError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// POST /api/v1/fetch
func (s *Server) enqueueFetch(c echo.Context) error {
	if err := s.jobs.EnqueueFetch(c.Request().Context()); err != nil {
		return s.enqueueError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued", "job": jobqueue.FetchMailArgs{}.Kind()})
}

// POST /api/v1/handle-one
func (s *Server) enqueueHandleOne(c echo.Context) error {
	if err := s.jobs.EnqueueHandleOne(c.Request().Context()); err != nil {
		return s.enqueueError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued", "job": jobqueue.HandleOneArgs{}.Kind()})
}

type replyRequest struct {
	Text string `json:"text"`
}

// POST /api/v1/threads/:ts/reply
func (s *Server) enqueueReply(c echo.Context) error {
	var req replyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text is required"})
	}
	if err := s.jobs.EnqueueReply(c.Request().Context(), c.Param("ts"), req.Text); err != nil {
		return s.enqueueError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued", "job": jobqueue.ThreadReplyArgs{}.Kind()})
}

// GET /api/v1/items/:type/:id
func (s *Server) getTranscript(c echo.Context) error {
	itemType, err := models.ParseItemType(c.Param("type"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	key := models.ItemKey{Type: itemType, ID: c.Param("id")}

	t, err := s.items.Transcript(c.Request().Context(), key)
	if errors.Is(err, conversation.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "item not found"})
	}
	if err != nil {
		s.logger.Error().Err(err).Str("item_id", key.ID).Msg("failed to load transcript")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load transcript"})
	}
	return c.JSON(http.StatusOK, transcriptResponse{Item: t.Item, State: t.State.String(), Lines: t.Lines})
}

func (s *Server) enqueueError(c echo.Context, err error) error {
	if errors.Is(err, jobqueue.ErrQueueFull) || errors.Is(err, jobqueue.ErrQueueStopped) {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	s.logger.Error().Err(err).Msg("failed to queue job")
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to queue job"})
}
