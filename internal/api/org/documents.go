// documents.go implements the tenant document endpoints. The organization is
// always the one named by the caller's session token.
package org

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orgstore/orgstore/internal/api/apierr"
	"github.com/orgstore/orgstore/internal/middleware"
	"github.com/orgstore/orgstore/internal/services"
)

// maxDocumentBody bounds a single POST /org/documents body.
const maxDocumentBody = 1 << 20

// DocumentHandlers handles tenant document endpoints
type DocumentHandlers struct {
	docs *services.DocumentService
}

// NewDocumentHandlers creates a new DocumentHandlers instance
func NewDocumentHandlers(docs *services.DocumentService) *DocumentHandlers {
	return &DocumentHandlers{docs: docs}
}

// @Summary      Add documents
// @Description  Stores a JSON object, or an array of objects, in the caller's organization namespace.
// @Tags         Documents
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      201  {object}  map[string]interface{}  "documents: []models.Document"
// @Failure      401  {object}  map[string]interface{}  "Invalid or expired token"
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Failure      409  {object}  map[string]interface{}  "Organization is being modified"
// @Failure      422  {object}  map[string]interface{}  "Invalid document"
// @Router       /org/documents [post]
// AddDocumentsHandler stores documents in the caller's namespace
func (h *DocumentHandlers) AddDocumentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		bodies, ok := decodeDocuments(c)
		if !ok {
			return
		}

		docs, err := h.docs.Add(c.Request.Context(), middleware.ClaimsFromContext(c), bodies)
		if err != nil {
			apierr.Write(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"documents": docs})
	}
}

// @Summary      List documents
// @Description  Lists the caller's organization documents in insertion order.
// @Tags         Documents
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "organization_name, documents: []models.Document"
// @Failure      401  {object}  map[string]interface{}  "Invalid or expired token"
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Router       /org/documents [get]
// ListDocumentsHandler lists the caller's documents
func (h *DocumentHandlers) ListDocumentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := middleware.ClaimsFromContext(c)
		docs, err := h.docs.List(c.Request.Context(), claims)
		if err != nil {
			apierr.Write(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"organization_name": claims.OrganizationID,
			"documents":         docs,
		})
	}
}

// decodeDocuments accepts either one JSON object or an array of objects.
func decodeDocuments(c *gin.Context) ([]map[string]interface{}, bool) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentBody+1))
	if err != nil {
		apierr.Abort(c, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	if len(raw) > maxDocumentBody {
		apierr.Abort(c, http.StatusRequestEntityTooLarge, "Request body too large")
		return nil, false
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		apierr.Abort(c, http.StatusUnprocessableEntity, "Request body is required")
		return nil, false
	}

	if raw[0] == '[' {
		var bodies []map[string]interface{}
		if err := decodeJSON(raw, &bodies); err != nil {
			apierr.Abort(c, http.StatusUnprocessableEntity, "Request body must be a JSON object or an array of objects")
			return nil, false
		}
		return bodies, true
	}

	var body map[string]interface{}
	if err := decodeJSON(raw, &body); err != nil || body == nil {
		apierr.Abort(c, http.StatusUnprocessableEntity, "Request body must be a JSON object or an array of objects")
		return nil, false
	}
	return []map[string]interface{}{body}, true
}

// decodeJSON decodes exactly one JSON value, keeping numbers as json.Number
// so large integer fields are stored as sent.
func decodeJSON(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}
