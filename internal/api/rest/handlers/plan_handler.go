package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// PlanHandler обработчик для тарифных планов
type PlanHandler struct {
	planSvc service.PlanService
	log     *logger.Logger
}

// NewPlanHandler создает новый обработчик тарифных планов
func NewPlanHandler(planSvc service.PlanService, log *logger.Logger) *PlanHandler {
	return &PlanHandler{
		planSvc: planSvc,
		log:     log,
	}
}

// ListPlans возвращает все тарифные планы
func (h *PlanHandler) ListPlans(c *gin.Context) {
	plans, err := h.planSvc.GetAll(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to get plans: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get plans"})
		return
	}

	c.JSON(http.StatusOK, plans)
}

// GetPlan возвращает тарифный план по ID
func (h *PlanHandler) GetPlan(c *gin.Context) {
	id := c.Param("id")

	plan, err := h.planSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
			return
		}

		if errors.Is(err, repository.ErrInvalidData) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plan ID format"})
			return
		}

		h.log.Error("Failed to get plan: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get plan"})
		return
	}

	c.JSON(http.StatusOK, plan)
}

// CreatePlan создает новый тарифный план
func (h *PlanHandler) CreatePlan(c *gin.Context) {
	var req domain.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plan, err := h.planSvc.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidData) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plan data"})
			return
		}

		h.log.Error("Failed to create plan: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create plan"})
		return
	}

	h.log.Info("Created plan with ID: %s", plan.ID)
	c.JSON(http.StatusCreated, plan)
}

// UpdatePlan обновляет тарифный план
func (h *PlanHandler) UpdatePlan(c *gin.Context) {
	id := c.Param("id")

	var req domain.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plan, err := h.planSvc.Update(c.Request.Context(), id, req)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
			return
		}

		if errors.Is(err, repository.ErrInvalidData) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plan data"})
			return
		}

		h.log.Error("Failed to update plan: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update plan"})
		return
	}

	h.log.Info("Updated plan with ID: %s", id)
	c.JSON(http.StatusOK, plan)
}

// DeletePlan удаляет тарифный план
func (h *PlanHandler) DeletePlan(c *gin.Context) {
	id := c.Param("id")

	if err := h.planSvc.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
			return
		}

		if errors.Is(err, repository.ErrInvalidData) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plan ID format"})
			return
		}

		h.log.Error("Failed to delete plan: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete plan"})
		return
	}

	h.log.Info("Deleted plan with ID: %s", id)
	c.Status(http.StatusNoContent)
}
