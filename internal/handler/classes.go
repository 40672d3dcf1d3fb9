package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"geoattend/internal/classes"
	"geoattend/internal/model"
)

type locationRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" binding:"required,gte=-180,lte=180"`
}

type scheduleRequest struct {
	DayOfWeek string `json:"dayOfWeek" binding:"required,weekday"`
	StartTime string `json:"startTime" binding:"required,hhmm"`
	EndTime   string `json:"endTime" binding:"required,hhmm"`
	Room      string `json:"room" binding:"required,notblank"`
}

type classRequest struct {
	Name          string           `json:"name" binding:"required,notblank"`
	Code          string           `json:"code" binding:"required,notblank"`
	Location      *locationRequest `json:"location" binding:"required"`
	AllowedRadius float64          `json:"allowedRadius" binding:"gte=0"`
	Schedule      *scheduleRequest `json:"schedule" binding:"required"`
}

func (r classRequest) input() classes.Input {
	return classes.Input{
		Name: r.Name,
		Code: r.Code,
		Location: &model.GeoPoint{
			Latitude:  *r.Location.Latitude,
			Longitude: *r.Location.Longitude,
		},
		AllowedRadius: r.AllowedRadius,
		Schedule: model.Schedule{
			DayOfWeek: r.Schedule.DayOfWeek,
			StartTime: r.Schedule.StartTime,
			EndTime:   r.Schedule.EndTime,
			Room:      r.Schedule.Room,
		},
	}
}

type enrollRequest struct {
	ClassID string `json:"classId" binding:"required,notblank"`
}

// ---------- Classes ----------

func (h *Handler) CreateClass(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWith(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	class, err := h.classes.Create(c.Request.Context(), session(c).Subject, req.input(), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, class, "")
}

// ListClasses lists every class newest first; ?mine=true keeps the caller's own.
func (h *Handler) ListClasses(c *gin.Context) {
	var createdBy string
	if mine, _ := strconv.ParseBool(c.Query("mine")); mine {
		createdBy = session(c).Subject
	}
	list, err := h.classes.List(c.Request.Context(), createdBy)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, list, "")
}

func (h *Handler) GetClass(c *gin.Context) {
	class, err := h.classes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, class, "")
}

func (h *Handler) UpdateClass(c *gin.Context) {
	if err := h.classes.CheckOwner(c.Request.Context(), session(c).Subject, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWith(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	class, err := h.classes.Update(c.Request.Context(), session(c).Subject, c.Param("id"), req.input(), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, class, "Class updated successfully")
}

func (h *Handler) DeleteClass(c *gin.Context) {
	if err := h.classes.Delete(c.Request.Context(), session(c).Subject, c.Param("id"), h.now()); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil, "Class deleted successfully")
}

// ---------- Enrollment ----------

func (h *Handler) Enroll(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWith(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	added, err := h.classes.Enroll(c.Request.Context(), session(c).Subject, req.ClassID, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	msg := "Enrolled successfully"
	if !added {
		msg = "Already enrolled"
	}
	ok(c, http.StatusOK, nil, msg)
}

func (h *Handler) Enrolled(c *gin.Context) {
	list, err := h.classes.Enrolled(c.Request.Context(), session(c).Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, list, "")
}
