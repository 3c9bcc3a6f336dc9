package voucher

import (
	"context"
	"time"
)

// Issued is the result of minting (or re-returning) a voucher.
type Issued struct {
	Code         string    `json:"code"`
	Token        string    `json:"token"`
	EmployeeID   string    `json:"employee_id"`
	EmployeeName string    `json:"employee_name"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Reissued     bool      `json:"reissued"` // true when an existing active voucher was returned
}

// Receipt is the result of a successful redemption.
type Receipt struct {
	Code         string    `json:"code"`
	EmployeeID   string    `json:"employee_id"`
	EmployeeName string    `json:"employee_name"`
	RedeemedAt   time.Time `json:"redeemed_at"`
}

// Stats summarizes the ledger for operators.
type Stats struct {
	Issued   int `json:"issued"`
	Redeemed int `json:"redeemed"`
	Active   int `json:"active"`
	Expired  int `json:"expired"`
}

// Notifier delivers an issued voucher token to its holder out-of-band
// (message, print, display). The service never calls it; wiring lives in
// whatever schedules issuance.
type Notifier interface {
	Notify(ctx context.Context, employeeID, employeeName, token string) error
}

// Renderer turns a token string into a scannable asset. The encoding format
// is the renderer's business.
type Renderer interface {
	Render(ctx context.Context, token string) ([]byte, error)
}
