package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
	"geoattend/internal/model"
)

type markRequest struct {
	ClassID    string   `json:"classId" binding:"required,notblank"`
	UserLat    *float64 `json:"userLat" binding:"required"`
	UserLon    *float64 `json:"userLon" binding:"required"`
	DeviceInfo string   `json:"deviceInfo" binding:"required,notblank"`
}

type statusResponse struct {
	IsPresent bool                    `json:"isPresent"`
	Record    *model.AttendanceRecord `json:"record"`
}

// ---------- Attendance ----------

func (h *Handler) MarkAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWith(c, http.StatusBadRequest, "Missing required fields")
		return
	}
	rec, err := h.attendance.Mark(c.Request.Context(), attendance.MarkRequest{
		StudentID:  session(c).Subject,
		ClassID:    req.ClassID,
		Latitude:   *req.UserLat,
		Longitude:  *req.UserLon,
		DeviceInfo: req.DeviceInfo,
	}, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, rec, "Attendance marked successfully!")
}

func (h *Handler) AttendanceStatus(c *gin.Context) {
	classID := c.Query("classId")
	if classID == "" {
		failWith(c, http.StatusBadRequest, "Missing classId parameter")
		return
	}
	rec, err := h.attendance.Status(c.Request.Context(), session(c).Subject, classID, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, statusResponse{IsPresent: rec != nil, Record: rec}, "")
}

// AttendanceReport returns the presence matrix; a class without marks gets
// an empty report and an explanatory message.
func (h *Handler) AttendanceReport(c *gin.Context) {
	classID := c.Query("classId")
	if classID == "" {
		failWith(c, http.StatusBadRequest, "Missing classId")
		return
	}
	report, err := h.attendance.Report(c.Request.Context(), classID)
	if err != nil {
		h.fail(c, err)
		return
	}
	msg := ""
	if report.Empty() {
		msg = "No attendance records found for this class."
	}
	ok(c, http.StatusOK, report, msg)
}
