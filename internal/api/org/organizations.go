// Package org implements the HTTP handlers for organization lifecycle
// operations and tenant documents.
package org

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orgstore/orgstore/internal/api/apierr"
	"github.com/orgstore/orgstore/internal/middleware"
	"github.com/orgstore/orgstore/internal/services"
)

// OrganizationHandlers handles organization lifecycle endpoints
type OrganizationHandlers struct {
	orgs *services.OrganizationService
}

// NewOrganizationHandlers creates a new OrganizationHandlers instance
func NewOrganizationHandlers(orgs *services.OrganizationService) *OrganizationHandlers {
	return &OrganizationHandlers{orgs: orgs}
}

// CreateOrganizationRequest is the body of POST /org/create
type CreateOrganizationRequest struct {
	OrganizationName string `json:"organization_name" binding:"required"`
	Email            string `json:"email" binding:"required,email"`
	Password         string `json:"password" binding:"required"`
}

// UpdateOrganizationRequest is the body of PUT /org/update. Email is the
// organization's current admin email.
type UpdateOrganizationRequest struct {
	OrganizationName string `json:"organization_name" binding:"required"`
	Email            string `json:"email" binding:"required,email"`
	Password         string `json:"password" binding:"required"`
	NewEmail         string `json:"new_email" binding:"omitempty,email"`
}

// MessageResponse carries a human-readable outcome
type MessageResponse struct {
	Message string `json:"message"`
}

// @Summary      Create organization
// @Description  Provisions the organization's namespace and registers it with its admin credentials.
// @Tags         Organizations
// @Accept       json
// @Produce      json
// @Param        body  body  CreateOrganizationRequest  true  "Organization and admin credentials"
// @Success      200  {object}  models.PublicOrganization
// @Failure      400  {object}  map[string]interface{}  "Organization already exists or admin email in use"
// @Failure      409  {object}  map[string]interface{}  "Concurrent operation on the same name"
// @Failure      422  {object}  map[string]interface{}  "Invalid input"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /org/create [post]
// CreateOrganizationHandler creates a new organization
func (h *OrganizationHandlers) CreateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Binding(c, err)
			return
		}

		view, err := h.orgs.Create(c.Request.Context(), services.CreateOrganizationInput{
			Name:     req.OrganizationName,
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			apierr.Write(c, err)
			return
		}

		c.JSON(http.StatusOK, view)
	}
}

// @Summary      Get organization
// @Description  Returns the public record of an organization. The password hash is never included.
// @Tags         Organizations
// @Produce      json
// @Param        organization_name  query  string  true  "Organization name"
// @Success      200  {object}  models.PublicOrganization
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Failure      422  {object}  map[string]interface{}  "organization_name is required"
// @Router       /org/get [get]
// GetOrganizationHandler returns one organization
func (h *OrganizationHandlers) GetOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := requiredQuery(c, "organization_name")
		if !ok {
			return
		}

		view, err := h.orgs.Get(c.Request.Context(), name)
		if err != nil {
			apierr.Write(c, err)
			return
		}

		c.JSON(http.StatusOK, view)
	}
}

// @Summary      Update organization
// @Description  Renames and/or re-credentials the organization identified by its current admin email. A rename migrates every document to the new namespace.
// @Tags         Organizations
// @Accept       json
// @Produce      json
// @Param        body  body  UpdateOrganizationRequest  true  "Current admin email, new name, new password"
// @Success      200  {object}  map[string]interface{}  "message, organization"
// @Failure      400  {object}  map[string]interface{}  "Organization name already exists"
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Failure      409  {object}  map[string]interface{}  "Concurrent operation on the same name"
// @Failure      422  {object}  map[string]interface{}  "Invalid input"
// @Router       /org/update [put]
// UpdateOrganizationHandler updates an organization
func (h *OrganizationHandlers) UpdateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Binding(c, err)
			return
		}

		view, err := h.orgs.Update(c.Request.Context(), services.UpdateOrganizationInput{
			Email:    req.Email,
			Name:     req.OrganizationName,
			Password: req.Password,
			NewEmail: req.NewEmail,
		})
		if err != nil {
			apierr.Write(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":      "Organization updated successfully",
			"organization": view,
		})
	}
}

// @Summary      Delete organization
// @Description  Deletes the organization and drops its namespace. The bearer token must belong to the organization's admin.
// @Tags         Organizations
// @Security     Bearer
// @Produce      json
// @Param        organization_name  query  string  true  "Organization name"
// @Success      200  {object}  MessageResponse
// @Failure      401  {object}  map[string]interface{}  "Invalid or expired token"
// @Failure      403  {object}  map[string]interface{}  "Not authorized to delete this organization"
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Router       /org/delete [delete]
// DeleteOrganizationHandler deletes an organization
func (h *OrganizationHandlers) DeleteOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := requiredQuery(c, "organization_name")
		if !ok {
			return
		}

		err := h.orgs.Delete(c.Request.Context(), name, middleware.ClaimsFromContext(c))
		if errors.Is(err, services.ErrForbidden) {
			apierr.Abort(c, http.StatusForbidden, "Not authorized to delete this organization")
			return
		}
		if err != nil {
			apierr.Write(c, err)
			return
		}

		c.JSON(http.StatusOK, MessageResponse{Message: "Organization deleted successfully"})
	}
}

func requiredQuery(c *gin.Context, key string) (string, bool) {
	v := c.Query(key)
	if v == "" {
		apierr.Abort(c, http.StatusUnprocessableEntity, key+" is required")
		return "", false
	}
	return v, true
}
