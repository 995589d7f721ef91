package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/expiry"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/models"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/services"
	apperrors "github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/errors"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/response"
)

// EventHandler exposes the lifecycle triggers the expiry core reacts to.
type EventHandler struct {
	svc   *services.EventService
	sched *expiry.Scheduler
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *services.EventService, sched *expiry.Scheduler) *EventHandler {
	return &EventHandler{svc: svc, sched: sched}
}

type createEventRequest struct {
	Title    string `json:"title" binding:"required"`
	EndTime  string `json:"end_datetime"`
	Timezone string `json:"timezone"`
}

type updateEndTimeRequest struct {
	EndTime string `json:"end_datetime" binding:"required"`
}

// POST /api/events
func (h *EventHandler) Create(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	evt, err := h.svc.Create(c.Request.Context(), services.CreateEventInput{
		Title:    req.Title,
		EndTime:  req.EndTime,
		Timezone: req.Timezone,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, evt)
}

// GET /api/events/:id
func (h *EventHandler) Get(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}

	evt, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, evt)
}

// POST /api/events/:id/publish
func (h *EventHandler) Publish(c *gin.Context) {
	h.transition(c, h.svc.Publish)
}

// POST /api/events/:id/unpublish
func (h *EventHandler) Unpublish(c *gin.Context) {
	h.transition(c, h.svc.Unpublish)
}

// POST /api/events/:id/trash
func (h *EventHandler) Trash(c *gin.Context) {
	h.transition(c, h.svc.Trash)
}

// DELETE /api/events/:id
func (h *EventHandler) Delete(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": id})
}

// PATCH /api/events/:id/end
func (h *EventHandler) UpdateEndTime(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}

	var req updateEndTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	evt, err := h.svc.UpdateEndTime(c.Request.Context(), id, req.EndTime)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, evt)
}

// POST /api/events/:id/expire
//
// Manual trigger for the canonical expiry path. The scheduler revalidates
// authoritative state, so calling this for an id that was never scheduled, or
// has not actually ended, is a safe no-op.
func (h *EventHandler) Expire(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}

	h.sched.Trigger(c.Request.Context(), id)
	response.Success(c, http.StatusAccepted, gin.H{"triggered": id})
}

func (h *EventHandler) transition(c *gin.Context, op func(ctx context.Context, id uint) (*models.Event, error)) {
	id, ok := eventID(c)
	if !ok {
		return
	}

	evt, err := op(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, evt)
}

func eventID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		response.Error(c, apperrors.NewBadRequest("event id must be a positive integer"))
		return 0, false
	}
	return uint(id), true
}
