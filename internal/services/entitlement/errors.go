package entitlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Reason машиночитаемая причина отказа.
type Reason string

const (
	ReasonLimitReached       Reason = "limit_reached"
	ReasonUpgradeRequired    Reason = "upgrade_required"
	ReasonPaymentRequired    Reason = "payment_required"
	ReasonPaymentInvalid     Reason = "payment_invalid"
	ReasonPaymentAlreadyUsed Reason = "payment_already_used"
)

// Error отказ в действии по тарифу. Price заполняется, когда действие
// можно оплатить разово, Used и Limit при исчерпанном лимите.
type Error struct {
	Reason   Reason
	Message  string
	Price    *decimal.Decimal
	Currency string
	Used     int
	Limit    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// NeedsPayment сообщает, снимается ли отказ разовой оплатой.
func (e *Error) NeedsPayment() bool {
	return e.Reason == ReasonPaymentRequired
}
