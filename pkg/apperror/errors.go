package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

const (
	CodeInvalidCredentials  = "AUTH_001"
	CodeConflict            = "AUTH_002"
	CodeUnauthenticated     = "AUTH_003"
	CodeAccountInactive     = "AUTH_004"
	CodeUnauthorized        = "AUTH_005"
	CodeExpired             = "AUTH_006"
	CodeTokenRevoked        = "AUTH_007"
	CodeInvalidResetToken   = "AUTH_008"
	CodeInsufficientBalance = "PAY_001"
	CodeValidation          = "PAY_002"
	CodeNotFound            = "PAY_004"
	CodeSelfTransfer        = "PAY_008"
	CodeRecipientNotFound   = "PAY_009"
	CodeAmountMismatch      = "PAY_010"
	CodeQuotaExceeded       = "KEY_001"
	CodeDuplicateKeyName    = "KEY_002"
	CodeGateway             = "GW_001"
	CodeRateLimited         = "RATE_001"
	CodeInternal            = "SYS_001"
)

// ---- Authentication & Authorization (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New(CodeInvalidCredentials, "Invalid credentials", http.StatusUnauthorized)
}

// ErrConflict reports that a unique account attribute is already taken.
func ErrConflict(field string) *AppError {
	return New(CodeConflict, fmt.Sprintf("%s already exists", field), http.StatusConflict)
}

func ErrUnauthenticated() *AppError {
	return New(CodeUnauthenticated, "Authentication required", http.StatusUnauthorized)
}

func ErrAccountInactive() *AppError {
	return New(CodeAccountInactive, "Account is inactive", http.StatusForbidden)
}

// ErrUnauthorized reports a missing permission on an authenticated principal.
func ErrUnauthorized(permission string) *AppError {
	return New(CodeUnauthorized, fmt.Sprintf("Missing permission: %s", permission), http.StatusForbidden)
}

func ErrExpired(what string) *AppError {
	return New(CodeExpired, fmt.Sprintf("%s has expired", what), http.StatusUnauthorized)
}

func ErrTokenRevoked() *AppError {
	return New(CodeTokenRevoked, "Token has been revoked", http.StatusUnauthorized)
}

func ErrInvalidResetToken() *AppError {
	return New(CodeInvalidResetToken, "Invalid or expired reset token", http.StatusBadRequest)
}

// ---- Wallet & Payments (PAY) ----

func ErrInsufficientBalance() *AppError {
	return New(CodeInsufficientBalance, "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New(CodeValidation, "Invalid amount", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrSelfTransfer() *AppError {
	return New(CodeSelfTransfer, "Cannot transfer to your own wallet", http.StatusBadRequest)
}

func ErrRecipientNotFound() *AppError {
	return New(CodeRecipientNotFound, "Recipient wallet not found", http.StatusNotFound)
}

func ErrAmountMismatch() *AppError {
	return New(CodeAmountMismatch, "Amount does not match the pending transaction", http.StatusUnprocessableEntity)
}

// ---- API keys (KEY) ----

func ErrQuotaExceeded(max int) *AppError {
	return New(CodeQuotaExceeded, fmt.Sprintf("Maximum of %d active API keys reached", max), http.StatusUnprocessableEntity)
}

func ErrDuplicateKeyName() *AppError {
	return New(CodeDuplicateKeyName, "An API key with this name already exists", http.StatusConflict)
}

// ---- Payment gateway (GW) ----

func ErrGateway(err error) *AppError {
	return Wrap(CodeGateway, "Payment gateway error", http.StatusBadGateway, err)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimited, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a PAY_002-style validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}
