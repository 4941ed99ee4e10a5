package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nestmatelabs/nestmate/internal/apperr"
	"github.com/nestmatelabs/nestmate/internal/profile"
)

type registerRequestPayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponsePayload struct {
	AccessToken string         `json:"access_token"`
	ExpiresIn   int64          `json:"expires_in"`
	TokenType   string         `json:"token_type"`
	User        profilePayload `json:"user"`
}

type profilePayload struct {
	ID               string `json:"id"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Email            string `json:"email"`
	OnboardingStatus string `json:"onboardingStatus"`
}

func profilePayloadFrom(p profile.Profile) profilePayload {
	return profilePayload{
		ID:               p.ID,
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		Email:            p.Email,
		OnboardingStatus: p.OnboardingStatus,
	}
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, apperr.New(apperr.KindBadRequest, "invalid request body"))
		return
	}

	created, err := h.profiles.Register(c.Request.Context(), profile.RegisterInput{
		FirstName: request.FirstName,
		LastName:  request.LastName,
		Email:     request.Email,
		Password:  request.Password,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.issueSession(c, *created, http.StatusCreated)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, apperr.New(apperr.KindBadRequest, "invalid request body"))
		return
	}

	authenticated, err := h.profiles.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.issueSession(c, *authenticated, http.StatusOK)
}

// handleGetProfile returns the caller's own profile; the dashboard
// re-fetches it after login to decide whether to show the survey.
func (h *httpHandler) handleGetProfile(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	found, err := h.profiles.Get(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":    profilePayloadFrom(*found),
		"answers": found.Answers,
	})
}

func (h *httpHandler) issueSession(c *gin.Context, p profile.Profile, status int) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), p.ID)
	if err != nil {
		h.respondError(c, apperr.Wrap(apperr.KindInternal, "failed to issue token", err))
		return
	}
	c.JSON(status, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        profilePayloadFrom(p),
	})
}
