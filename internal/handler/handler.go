// Package handler exposes the services over HTTP with gin.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"geoattend/internal/apperr"
	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/classes"
	"geoattend/internal/model"
	"geoattend/internal/users"
)

// Handler holds the services behind the routes.
type Handler struct {
	users      *users.Service
	classes    *classes.Service
	attendance *attendance.Service
	signer     *auth.Signer
	now        func() time.Time
	log        *zap.Logger
}

// New creates a handler. now is the clock used for every time-dependent
// decision; nil means time.Now.
func New(u *users.Service, c *classes.Service, a *attendance.Service, signer *auth.Signer, now func() time.Time, log *zap.Logger) *Handler {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	registerValidators()
	return &Handler{users: u, classes: c, attendance: a, signer: signer, now: now, log: log}
}

// Register mounts every API route on r.
func (h *Handler) Register(r gin.IRouter) {
	a := r.Group("/auth")
	a.POST("/register", h.RegisterUser)
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)

	session := r.Group("", auth.Authenticate(h.signer))
	session.GET("/me", h.Profile)
	session.PUT("/me", h.UpdateProfile)

	cr := auth.RequireRole(model.RoleCR)

	session.GET("/classes", h.ListClasses)
	session.POST("/classes", cr, h.CreateClass)
	session.POST("/classes/enroll", h.Enroll)
	session.GET("/classes/enrolled", h.Enrolled)
	session.GET("/classes/:id", h.GetClass)
	session.PUT("/classes/:id", cr, h.UpdateClass)
	session.DELETE("/classes/:id", cr, h.DeleteClass)

	session.POST("/attendance/mark", h.MarkAttendance)
	session.GET("/attendance/status", h.AttendanceStatus)
	session.GET("/attendance/report", cr, h.AttendanceReport)
}

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) bool

// Health reports each dependency. A failing required check answers 503; a
// failing optional one is only reported.
func Health(required, optional map[string]Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := gin.H{"status": "ok"}
		for name, check := range required {
			ok := check(ctx)
			body[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		for name, check := range optional {
			body[name] = check(ctx)
		}
		c.JSON(status, body)
	}
}

// ---------- Envelope ----------

func ok(c *gin.Context, status int, data any, message string) {
	body := gin.H{"success": true}
	if data != nil {
		body["data"] = data
	}
	if message != "" {
		body["message"] = message
	}
	c.JSON(status, body)
}

func failWith(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// fail maps err onto a status code and the error envelope.
func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	failWith(c, status, msg)
}

func statusOf(err error) (int, string) {
	if rej, isRej := attendance.AsRejection(err); isRej {
		if rej.Reason == attendance.ReasonAlreadyMarked {
			return http.StatusConflict, rej.Message
		}
		return http.StatusUnprocessableEntity, rej.Message
	}

	var verr *apperr.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// session returns the caller's claims. Routes using it sit behind
// auth.Authenticate.
func session(c *gin.Context) auth.Claims {
	claims, _ := auth.FromContext(c)
	return claims
}
