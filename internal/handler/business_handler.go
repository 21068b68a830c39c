package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/reservapp/reserva-api/internal/models"
	"github.com/reservapp/reserva-api/internal/service"
	appErrors "github.com/reservapp/reserva-api/pkg/errors"
	"github.com/reservapp/reserva-api/pkg/response"
)

// BusinessHandler exposes business endpoints.
type BusinessHandler struct {
	businesses *service.BusinessService
	bookings   *service.BookingService
	exports    *service.ExportService
}

// NewBusinessHandler constructs BusinessHandler.
func NewBusinessHandler(businesses *service.BusinessService, bookings *service.BookingService, exports *service.ExportService) *BusinessHandler {
	return &BusinessHandler{businesses: businesses, bookings: bookings, exports: exports}
}

// List godoc
// @Summary List businesses
// @Tags Businesses
// @Produce json
// @Param search query string false "Search by name"
// @Param active query bool false "Filter by active state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /businesses [get]
func (h *BusinessHandler) List(c *gin.Context) {
	var filter models.BusinessFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	if active := c.Query("active"); active != "" {
		if active == "true" {
			v := true
			filter.Active = &v
		} else if active == "false" {
			v := false
			filter.Active = &v
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	businesses, total, err := h.businesses.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, businesses, models.NewPagination(filter.Page, filter.PageSize, total))
}

// ListMine godoc
// @Summary List my businesses
// @Tags Businesses
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /businesses/my-businesses [get]
func (h *BusinessHandler) ListMine(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	businesses, err := h.businesses.ListMine(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, businesses, nil)
}

// Get godoc
// @Summary Get business detail
// @Tags Businesses
// @Produce json
// @Param id path string true "Business ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /businesses/{id} [get]
func (h *BusinessHandler) Get(c *gin.Context) {
	business, err := h.businesses.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, business, nil)
}

// Create godoc
// @Summary Create business
// @Tags Businesses
// @Accept json
// @Produce json
// @Param payload body models.CreateBusinessRequest true "Business payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /businesses [post]
func (h *BusinessHandler) Create(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateBusinessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	business, err := h.businesses.Create(c.Request.Context(), principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, business)
}

// Update godoc
// @Summary Update business
// @Tags Businesses
// @Accept json
// @Produce json
// @Param id path string true "Business ID"
// @Param payload body models.UpdateBusinessRequest true "Business payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /businesses/{id} [put]
func (h *BusinessHandler) Update(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UpdateBusinessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	business, err := h.businesses.Update(c.Request.Context(), principal, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, business, nil)
}

// Deactivate godoc
// @Summary Deactivate business
// @Tags Businesses
// @Produce json
// @Param id path string true "Business ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /businesses/{id} [delete]
func (h *BusinessHandler) Deactivate(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.businesses.Deactivate(c.Request.Context(), principal, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListBookings godoc
// @Summary List business bookings
// @Description List bookings across a business's services. Owner or admin.
// @Tags Businesses
// @Produce json
// @Param id path string true "Business ID"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /businesses/{id}/bookings [get]
func (h *BusinessHandler) ListBookings(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := parseBookingFilter(c)

	bookings, total, err := h.bookings.ListForBusiness(c.Request.Context(), principal, c.Param("id"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bookings, models.NewPagination(filter.Page, filter.PageSize, total))
}

// ExportBookings godoc
// @Summary Export business bookings
// @Description Download a business's bookings as CSV or PDF. Owner or admin.
// @Tags Businesses
// @Produce octet-stream
// @Param id path string true "Business ID"
// @Param format query string false "csv or pdf"
// @Param status query string false "Filter by status"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /businesses/{id}/bookings/export [get]
func (h *BusinessHandler) ExportBookings(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	filter := parseBookingFilter(c)

	result, err := h.exports.ExportBusinessBookings(c.Request.Context(), principal, c.Param("id"), format, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}
