package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"geoattend/internal/apperr"
	"geoattend/internal/auth"
	"geoattend/internal/model"
	"geoattend/internal/users"
)

type registerRequest struct {
	Name     string `json:"name" binding:"required,notblank,max=120"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Gender   string `json:"gender" binding:"max=32"`
	Role     string `json:"role" binding:"omitempty,oneof=student cr"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type profileRequest struct {
	Name   string `json:"name" binding:"required,notblank,max=120"`
	Gender string `json:"gender" binding:"max=32"`
}

type tokenResponse struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresAt    int64      `json:"expiresAt"`
	User         model.User `json:"user"`
}

// ---------- Accounts ----------

func (h *Handler) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWith(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	u, err := h.users.Register(c.Request.Context(), users.Registration{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Gender:   req.Gender,
		Role:     req.Role,
	}, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.issue(c, http.StatusCreated, u, "Registered successfully")
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWith(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	u, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			failWith(c, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.fail(c, err)
		return
	}
	h.issue(c, http.StatusOK, u, "")
}

// Refresh redeems a refresh token once and issues a new pair.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWith(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	if _, err := h.signer.Parse(req.RefreshToken, auth.TypeRefresh); err != nil {
		failWith(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	u, err := h.users.ConsumeRefreshToken(c.Request.Context(), req.RefreshToken, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.issue(c, http.StatusOK, u, "")
}

func (h *Handler) issue(c *gin.Context, status int, u model.User, message string) {
	now := h.now()
	tokens, err := h.signer.Issue(u.ID, u.Email, u.Role, now)
	if err != nil {
		h.log.Error("token issue failed", zap.String("user_id", u.ID), zap.Error(err))
		failWith(c, http.StatusInternalServerError, "token issue failed")
		return
	}
	if err := h.users.SaveRefreshToken(c.Request.Context(), u.ID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, status, tokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.AccessExp.Unix(),
		User:         u,
	}, message)
}

// ---------- Profile ----------

func (h *Handler) Profile(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), session(c).Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, u, "")
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWith(c, http.StatusBadRequest, bindingMessage(err))
		return
	}
	u, err := h.users.UpdateProfile(c.Request.Context(), session(c).Subject, req.Name, req.Gender, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, u, "Profile updated")
}
