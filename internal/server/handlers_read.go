package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fossgis/3dmr/internal/catalog"
	"github.com/fossgis/3dmr/internal/storage"
)

type modelInfoPayload struct {
	ID          int               `json:"id"`
	Revision    int               `json:"revision"`
	Title       string            `json:"title"`
	Description string            `json:"desc"`
	Rendered    string            `json:"rendered_desc"`
	Latitude    *float64          `json:"lat"`
	Longitude   *float64          `json:"lon"`
	Tags        map[string]string `json:"tags"`
	Categories  []string          `json:"categories"`
	Author      string            `json:"author"`
	Date        time.Time         `json:"date"`
	Source      string            `json:"source"`
	License     int               `json:"license"`
	LicenseName string            `json:"license_name"`
	Rotation    float64           `json:"rotation"`
	Scale       float64           `json:"scale"`
	Translation [3]float64        `json:"translation"`
	Comments    []commentPayload  `json:"comments"`
}

type commentPayload struct {
	ID       uint      `json:"id"`
	Author   string    `json:"author"`
	Body     string    `json:"body"`
	Rendered string    `json:"rendered_body"`
	Date     time.Time `json:"date"`
}

func (h *httpHandler) handleInfo(c *gin.Context) {
	modelID, ok := pathInt(c, "model_id")
	if !ok {
		return
	}

	detail, err := h.catalog.DetailFor(c.Request.Context(), h.actor(c), modelID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	record := detail.Model
	payload := modelInfoPayload{
		ID:          record.ModelID,
		Revision:    record.Revision,
		Title:       record.Title,
		Description: record.Description,
		Rendered:    record.RenderedDescription,
		Latitude:    record.Latitude,
		Longitude:   record.Longitude,
		Tags:        record.TagMap(),
		Categories:  record.CategoryNames(),
		Author:      record.AuthorUID,
		Date:        record.UploadDate,
		Source:      record.Source,
		License:     record.License,
		LicenseName: catalog.LicenseName(record.License),
		Rotation:    record.Rotation,
		Scale:       record.Scale,
		Translation: [3]float64{record.TranslationX, record.TranslationY, record.TranslationZ},
		Comments:    make([]commentPayload, 0, len(detail.Comments)),
	}
	for _, comment := range detail.Comments {
		payload.Comments = append(payload.Comments, commentPayload{
			ID:       comment.ID,
			Author:   comment.AuthorUID,
			Body:     comment.Body,
			Rendered: comment.RenderedBody,
			Date:     comment.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleDownloadLatest(c *gin.Context) {
	modelID, ok := pathInt(c, "model_id")
	if !ok {
		return
	}
	record, err := h.catalog.Latest(c.Request.Context(), h.actor(c), modelID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	h.serveModelFile(c, record.ModelID, record.Revision, fmt.Sprintf("%d.glb", record.ModelID))
}

func (h *httpHandler) handleDownloadRevision(c *gin.Context) {
	modelID, ok := pathInt(c, "model_id")
	if !ok {
		return
	}
	revision, ok := pathInt(c, "revision")
	if !ok {
		return
	}
	record, err := h.catalog.ByRevision(c.Request.Context(), h.actor(c), modelID, revision)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	h.serveModelFile(c, record.ModelID, record.Revision,
		fmt.Sprintf("%d_%d.glb", record.ModelID, record.Revision))
}

func (h *httpHandler) serveModelFile(c *gin.Context, modelID, revision int, filename string) {
	content, size, err := h.files.Open(modelID, revision)
	if err != nil {
		if errors.Is(err, storage.ErrFileMissing) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("model file open failed",
			zap.Int("model_id", modelID),
			zap.Int("revision", revision),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	defer content.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.DataFromReader(http.StatusOK, size, "application/octet-stream", content, nil)
}

func (h *httpHandler) handleLookupTag(c *gin.Context) {
	raw := c.Param("tag")
	key, value, found := strings.Cut(raw, "=")
	if !found || key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": "tag must be key=value"})
		return
	}
	h.runSearch(c, catalog.Filters{Tags: map[string]string{key: value}})
}

func (h *httpHandler) handleLookupCategory(c *gin.Context) {
	h.runSearch(c, catalog.Filters{Categories: []string{c.Param("category")}})
}

func (h *httpHandler) handleLookupAuthor(c *gin.Context) {
	uid, found := h.resolveAuthor(c, c.Param("username"))
	if !found {
		c.JSON(http.StatusOK, []int{})
		return
	}
	h.runSearch(c, catalog.Filters{AuthorUID: uid})
}

func (h *httpHandler) handleLookupTitle(c *gin.Context) {
	h.runSearch(c, catalog.Filters{Title: c.Param("title")})
}

func (h *httpHandler) handleLookupRange(c *gin.Context) {
	latitude, ok := queryFloat(c, "lat")
	if !ok {
		return
	}
	longitude, ok := queryFloat(c, "lon")
	if !ok {
		return
	}
	distance, ok := queryFloat(c, "distance")
	if !ok {
		return
	}
	h.runSearch(c, catalog.Filters{Location: &catalog.LocationFilter{
		Latitude:     latitude,
		Longitude:    longitude,
		RadiusMeters: distance,
	}})
}

type searchRequestPayload struct {
	Author     string            `json:"author"`
	Title      string            `json:"title"`
	Tags       map[string]string `json:"tags"`
	Categories []string          `json:"categories"`
	Latitude   *float64          `json:"lat"`
	Longitude  *float64          `json:"lon"`
	Range      *float64          `json:"range"`
	Page       int               `json:"page"`
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	var request searchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	filters := catalog.Filters{
		Title:      request.Title,
		Tags:       request.Tags,
		Categories: request.Categories,
	}
	if request.Author != "" {
		uid, found := h.resolveAuthor(c, request.Author)
		if !found {
			c.JSON(http.StatusOK, []int{})
			return
		}
		filters.AuthorUID = uid
	}
	if request.Latitude != nil || request.Longitude != nil || request.Range != nil {
		if request.Latitude == nil || request.Longitude == nil || request.Range == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "validation_failed",
				"detail": "lat, lon and range must be supplied together",
			})
			return
		}
		filters.Location = &catalog.LocationFilter{
			Latitude:     *request.Latitude,
			Longitude:    *request.Longitude,
			RadiusMeters: *request.Range,
		}
	}

	page := request.Page
	if page == 0 {
		page = 1
	}
	results, err := h.catalog.Search(c.Request.Context(), h.actor(c), filters, page)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// runSearch executes a single-filter lookup with the page taken from the
// query string.
func (h *httpHandler) runSearch(c *gin.Context, filters catalog.Filters) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "detail": "page must be an integer"})
			return
		}
		page = parsed
	}
	results, err := h.catalog.Search(c.Request.Context(), h.actor(c), filters, page)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// resolveAuthor maps a uid or display name to the account uid. A missing
// account simply matches nothing.
func (h *httpHandler) resolveAuthor(c *gin.Context, identity string) (string, bool) {
	account, err := h.users.Lookup(c.Request.Context(), identity)
	if err != nil {
		return "", false
	}
	return account.UID, true
}

func pathInt(c *gin.Context, name string) (int, bool) {
	value, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"detail": fmt.Sprintf("%s must be an integer", name),
		})
		return 0, false
	}
	return value, true
}

func queryFloat(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"detail": fmt.Sprintf("%s query parameter is required", name),
		})
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"detail": fmt.Sprintf("%s must be a number", name),
		})
		return 0, false
	}
	return value, true
}
