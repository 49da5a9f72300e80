package handler

import (
	"strconv"

	"wallet-service/internal/adapter/http/dto"
	"wallet-service/internal/adapter/http/middleware"
	"wallet-service/internal/core/ports"
	"wallet-service/pkg/apperror"
	"wallet-service/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// WalletHandler handles balance, deposit and transfer endpoints. Callers are
// either users or API keys holding the route's permission.
type WalletHandler struct {
	walletSvc  ports.WalletService
	depositSvc ports.DepositService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService, depositSvc ports.DepositService) *WalletHandler {
	return &WalletHandler{
		walletSvc:  walletSvc,
		depositSvc: depositSvc,
	}
}

// GetBalance handles GET /api/v1/wallet/balance.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	wallet, err := h.walletSvc.GetBalance(c.Request.Context(), middleware.GetPrincipal(c).UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewBalanceResponse(wallet))
}

// Deposit handles POST /api/v1/wallet/deposit.
func (h *WalletHandler) Deposit(c *gin.Context) {
	var req dto.DepositRequest
	if !bind(c, &req) {
		return
	}

	intent, err := h.depositSvc.Initiate(c.Request.Context(), middleware.GetPrincipal(c).UserID, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, intent.Reference)
	response.Created(c, dto.NewDepositResponse(intent))
}

// DepositStatus handles GET /api/v1/wallet/deposit/:reference/status.
func (h *WalletHandler) DepositStatus(c *gin.Context) {
	status, err := h.depositSvc.Status(c.Request.Context(), middleware.GetPrincipal(c).UserID, c.Param("reference"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewDepositStatusResponse(status))
}

// Transfer handles POST /api/v1/wallet/transfer.
func (h *WalletHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.walletSvc.Transfer(c.Request.Context(), ports.TransferRequest{
		SenderUserID:    middleware.GetPrincipal(c).UserID,
		RecipientNumber: req.WalletNumber,
		Amount:          req.Amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, result.Reference)
	response.OK(c, dto.NewTransferResponse(result))
}

// ListTransactions handles GET /api/v1/wallet/transactions?limit=&offset=.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil {
		response.Error(c, apperror.Validation("limit must be an integer"))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		response.Error(c, apperror.Validation("offset must be an integer"))
		return
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	txns, total, err := h.walletSvc.ListTransactions(c.Request.Context(), middleware.GetPrincipal(c).UserID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, len(txns))
	for i := range txns {
		items[i] = dto.NewTransactionResponse(&txns[i])
	}
	response.OK(c, dto.TransactionListResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
