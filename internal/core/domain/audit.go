package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionSignup          AuditAction = "SIGNUP"
	AuditActionLogin           AuditAction = "LOGIN"
	AuditActionLogout          AuditAction = "LOGOUT"
	AuditActionPasswordReset   AuditAction = "PASSWORD_RESET"
	AuditActionPasswordChange  AuditAction = "PASSWORD_CHANGE"
	AuditActionDeactivate      AuditAction = "DEACTIVATE"
	AuditActionAPIKeyIssue     AuditAction = "API_KEY_ISSUE"
	AuditActionAPIKeyRevoke    AuditAction = "API_KEY_REVOKE"
	AuditActionAPIKeyDelete    AuditAction = "API_KEY_DELETE"
	AuditActionAPIKeyRollover  AuditAction = "API_KEY_ROLLOVER"
	AuditActionTransfer        AuditAction = "TRANSFER"
	AuditActionDepositInitiate AuditAction = "DEPOSIT_INITIATE"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	UserID       *uuid.UUID  `json:"user_id,omitempty"`
	APIKeyID     *uuid.UUID  `json:"api_key_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
