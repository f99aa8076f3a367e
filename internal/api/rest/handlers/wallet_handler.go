package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/service"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// WalletHandler обработчик для кошельков
type WalletHandler struct {
	walletSvc service.WalletService
	log       *logger.Logger
}

// NewWalletHandler создает новый обработчик кошельков
func NewWalletHandler(walletSvc service.WalletService, log *logger.Logger) *WalletHandler {
	return &WalletHandler{
		walletSvc: walletSvc,
		log:       log,
	}
}

// topUpRequest запрос на пополнение кошелька
type topUpRequest struct {
	Amount    string `json:"amount" binding:"required"`
	Currency  string `json:"currency" binding:"required,len=3"`
	Reference string `json:"reference" binding:"required"`
}

// GetBalance возвращает баланс аккаунта в запрошенной валюте
func (h *WalletHandler) GetBalance(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("account_id"))
	if err != nil {
		h.log.Warn("Invalid UUID format: %s", c.Param("account_id"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account ID format"})
		return
	}

	currency := c.DefaultQuery("currency", "USD")

	balance, err := h.walletSvc.GetBalance(c.Request.Context(), accountID, currency)
	if err != nil {
		h.log.Error("Failed to get balance: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"currency":   currency,
		"balance":    balance,
	})
}

// TopUp зачисляет средства на кошелек аккаунта.
// Reference в запросе делает пополнение идемпотентным: повтор той же ссылки
// отклоняется журналом.
func (h *WalletHandler) TopUp(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("account_id"))
	if err != nil {
		h.log.Warn("Invalid UUID format: %s", c.Param("account_id"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account ID format"})
		return
	}

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() || amount.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}

	transaction, err := h.walletSvc.Credit(c.Request.Context(), accountID, domain.NewMoney(amount, req.Currency), uuid.Nil, req.Reference)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
			return
		}

		h.log.Error("Failed to credit wallet: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to credit wallet"})
		return
	}

	h.log.Info("Credited wallet for account %s: %s %s", accountID, amount, req.Currency)
	c.JSON(http.StatusCreated, transaction)
}
