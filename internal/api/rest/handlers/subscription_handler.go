package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// SubscriptionHandler обработчик для подписок
type SubscriptionHandler struct {
	subscriptionSvc service.SubscriptionService
	renewalSvc      service.RenewalService
	log             *logger.Logger
}

// NewSubscriptionHandler создает новый обработчик подписок
func NewSubscriptionHandler(subscriptionSvc service.SubscriptionService, renewalSvc service.RenewalService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionSvc: subscriptionSvc,
		renewalSvc:      renewalSvc,
		log:             log,
	}
}

// CreateSubscription создает новую подписку
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	var req domain.SubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	subscription, err := h.subscriptionSvc.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.log.Warn("Plan not found: %s", req.PlanID)
			c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
			return
		}

		if errors.Is(err, repository.ErrInvalidData) {
			h.log.Warn("Invalid data in request")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data in request"})
			return
		}

		if errors.Is(err, domain.ErrInvalidOperation) {
			h.log.Warn("Invalid operation: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Plan is not available"})
			return
		}

		h.log.Error("Failed to create subscription: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create subscription"})
		return
	}

	h.log.Info("Created subscription with ID: %s", subscription.ID)
	c.JSON(http.StatusCreated, subscription)
}

// GetSubscription возвращает подписку по ID
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	id := c.Param("id")

	subscription, err := h.subscriptionSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.log.Warn("Subscription not found: %s", id)
			c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
			return
		}

		if errors.Is(err, repository.ErrInvalidData) {
			h.log.Warn("Invalid UUID format: %s", id)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription ID format"})
			return
		}

		h.log.Error("Failed to get subscription: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get subscription"})
		return
	}

	c.JSON(http.StatusOK, subscription)
}

// ListSubscriptions возвращает подписки аккаунта вместе с живыми состояниями
// питания серверов
func (h *SubscriptionHandler) ListSubscriptions(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id query parameter is required"})
		return
	}

	views, err := h.subscriptionSvc.GetForAccount(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidData) {
			h.log.Warn("Invalid UUID format: %s", accountID)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account ID format"})
			return
		}

		h.log.Error("Failed to get subscriptions for account: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get subscriptions"})
		return
	}

	h.log.Info("Returned %d subscriptions for account %s", len(views), accountID)
	c.JSON(http.StatusOK, views)
}

// PatchSubscription частично обновляет подписку
func (h *SubscriptionHandler) PatchSubscription(c *gin.Context) {
	id := c.Param("id")

	var patch domain.SubscriptionPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.log.Warn("Invalid request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	subscription, err := h.subscriptionSvc.Update(c.Request.Context(), id, patch)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.log.Warn("Subscription not found: %s", id)
			c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
			return
		}

		if errors.Is(err, repository.ErrInvalidData) {
			h.log.Warn("Invalid UUID format: %s", id)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription ID format"})
			return
		}

		if errors.Is(err, domain.ErrInvalidOperation) {
			h.log.Warn("Cannot update subscription: %v", err)
			c.JSON(http.StatusConflict, gin.H{"error": "Subscription is in a terminal state"})
			return
		}

		h.log.Error("Failed to update subscription: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update subscription"})
		return
	}

	h.log.Info("Updated subscription with ID: %s", id)
	c.JSON(http.StatusOK, subscription)
}

// RenewSubscription выполняет ручное продление подписки из кошелька
func (h *SubscriptionHandler) RenewSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.log.Warn("Invalid UUID format: %s", c.Param("id"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription ID format"})
		return
	}

	result := h.renewalSvc.Renew(c.Request.Context(), id, true)
	if !result.Success {
		switch {
		case strings.Contains(result.Message, "not found"):
			c.JSON(http.StatusNotFound, result)
		case strings.Contains(result.Message, "insufficient"):
			c.JSON(http.StatusPaymentRequired, result)
		default:
			c.JSON(http.StatusConflict, result)
		}
		return
	}

	h.log.Info("Manually renewed subscription with ID: %s", id)
	c.JSON(http.StatusOK, result)
}
