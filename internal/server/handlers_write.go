package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fossgis/3dmr/internal/catalog"
	"github.com/fossgis/3dmr/internal/users"
	"github.com/fossgis/3dmr/internal/validate"
)

type tokenRequestPayload struct {
	ProviderToken string `json:"provider_token"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// handleTokenExchange trades a provider access token for an API bearer token,
// creating or refreshing the local account along the way.
func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ProviderToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.verifier.Verify(c.Request.Context(), request.ProviderToken)
	if err != nil {
		h.logger.Warn("provider token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if _, err := h.users.EnsureUser(c.Request.Context(), users.Claims{
		UID:         profile.UID,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
	}); err != nil {
		h.logger.Error("account provisioning failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), profile.UID)
	if err != nil {
		h.logger.Error("failed to issue bearer token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type metadataPayload struct {
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Tags         map[string]string `json:"tags"`
	Categories   []string          `json:"categories"`
	Latitude     *float64          `json:"lat"`
	Longitude    *float64          `json:"lon"`
	Source       string            `json:"source"`
	License      int               `json:"license"`
	Rotation     float64           `json:"rotation"`
	Scale        float64           `json:"scale"`
	TranslationX float64           `json:"translation_x"`
	TranslationY float64           `json:"translation_y"`
	TranslationZ float64           `json:"translation_z"`
}

func (p metadataPayload) toMetadata() catalog.Metadata {
	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	return catalog.Metadata{
		Title:        p.Title,
		Description:  p.Description,
		Tags:         p.Tags,
		Categories:   p.Categories,
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		Source:       p.Source,
		License:      p.License,
		Rotation:     p.Rotation,
		Scale:        scale,
		TranslationX: p.TranslationX,
		TranslationY: p.TranslationY,
		TranslationZ: p.TranslationZ,
	}
}

type uploadResponsePayload struct {
	ModelID  int `json:"model_id"`
	Revision int `json:"revision"`
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	meta, ok := h.multipartMetadata(c, true)
	if !ok {
		return
	}
	content, ok := h.multipartModel(c)
	if !ok {
		return
	}

	record, err := h.catalog.Create(c.Request.Context(), h.actor(c), meta.toMetadata(), bytes.NewReader(content))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, uploadResponsePayload{ModelID: record.ModelID, Revision: record.Revision})
}

func (h *httpHandler) handleRevise(c *gin.Context) {
	modelID, ok := pathInt(c, "model_id")
	if !ok {
		return
	}
	meta, ok := h.multipartMetadata(c, false)
	if !ok {
		return
	}
	content, ok := h.multipartModel(c)
	if !ok {
		return
	}

	var override *catalog.Metadata
	if meta != nil {
		converted := meta.toMetadata()
		override = &converted
	}
	record, err := h.catalog.Revise(c.Request.Context(), h.actor(c), modelID, override, bytes.NewReader(content))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, uploadResponsePayload{ModelID: record.ModelID, Revision: record.Revision})
}

func (h *httpHandler) handleEdit(c *gin.Context) {
	modelID, ok := pathInt(c, "model_id")
	if !ok {
		return
	}
	revision, ok := pathInt(c, "revision")
	if !ok {
		return
	}
	var payload metadataPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.catalog.Edit(c.Request.Context(), h.actor(c), modelID, revision, payload.toMetadata()); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"edited": true})
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	modelID, ok := pathInt(c, "model_id")
	if !ok {
		return
	}
	if err := h.catalog.Delete(c.Request.Context(), h.actor(c), modelID); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type commentRequestPayload struct {
	Body string `json:"comment"`
}

func (h *httpHandler) handleComment(c *gin.Context) {
	modelID, ok := pathInt(c, "model_id")
	if !ok {
		return
	}
	revision, ok := pathInt(c, "revision")
	if !ok {
		return
	}
	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	comment, err := h.catalog.AddComment(c.Request.Context(), h.actor(c), modelID, revision, request.Body)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comment_id": comment.ID})
}

func (h *httpHandler) handleHide(hidden bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID, ok := pathInt(c, "model_id")
		if !ok {
			return
		}
		revision, ok := pathInt(c, "revision")
		if !ok {
			return
		}
		if err := h.catalog.SetModelHidden(c.Request.Context(), h.actor(c), modelID, revision, hidden); err != nil {
			h.writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"hidden": hidden})
	}
}

type banRequestPayload struct {
	Reason string `json:"reason"`
}

func (h *httpHandler) handleBan(c *gin.Context) {
	actor := h.actor(c)
	if decision := users.Authorize(actor, users.ActionBan, ""); !decision.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	var request banRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.users.BanUser(c.Request.Context(), actor.UID, c.Param("uid"), request.Reason)
	switch {
	case errors.Is(err, users.ErrUnknownUser):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, users.ErrAlreadyBanned):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": "user is already banned"})
	case err != nil:
		h.logger.Error("ban failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	default:
		c.JSON(http.StatusOK, gin.H{"banned": true})
	}
}

func (h *httpHandler) handleUnban(c *gin.Context) {
	actor := h.actor(c)
	if decision := users.Authorize(actor, users.ActionBan, ""); !decision.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	err := h.users.UnbanUser(c.Request.Context(), actor.UID, c.Param("uid"))
	switch {
	case errors.Is(err, users.ErrNotBanned):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": "user is not banned"})
	case err != nil:
		h.logger.Error("unban failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	default:
		c.JSON(http.StatusOK, gin.H{"banned": false})
	}
}

type profileRequestPayload struct {
	Description string `json:"description"`
}

// handleProfileUpdate replaces the caller's own profile description.
func (h *httpHandler) handleProfileUpdate(c *gin.Context) {
	var request profileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.users.UpdateProfile(c.Request.Context(), h.actor(c).UID, request.Description); err != nil {
		if errors.Is(err, users.ErrUnknownUser) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("profile update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// multipartMetadata decodes the "metadata" JSON form field. When the field is
// absent and not required it returns (nil, true); a false second return means
// the response has already been written.
func (h *httpHandler) multipartMetadata(c *gin.Context, required bool) (*metadataPayload, bool) {
	raw := c.PostForm("metadata")
	if raw == "" {
		if required {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": "metadata form field is required"})
			return nil, false
		}
		return nil, true
	}
	var payload metadataPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": "metadata must be valid JSON"})
		return nil, false
	}
	return &payload, true
}

// multipartModel reads and validates the uploaded "model" file part.
func (h *httpHandler) multipartModel(c *gin.Context) ([]byte, bool) {
	header, err := c.FormFile("model")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": "model file is required"})
		return nil, false
	}
	if header.Size > h.maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": "model file exceeds upload limit"})
		return nil, false
	}
	file, err := header.Open()
	if err != nil {
		h.logger.Error("upload open failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return nil, false
	}
	defer file.Close()

	content, err := h.validator.Validate(c.Request.Context(), file)
	if err != nil {
		switch {
		case errors.Is(err, validate.ErrNotGLB),
			errors.Is(err, validate.ErrInvalidModel),
			errors.Is(err, validate.ErrDegenerateModel):
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": err.Error()})
		default:
			h.logger.Error("model validation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return nil, false
	}
	return content, true
}
