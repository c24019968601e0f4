package enums

import "fmt"

// OrderStatus tracks the fulfillment lifecycle of an appeal order.
type OrderStatus string

const (
	OrderStatusPendingPayment  OrderStatus = "pending_payment"
	OrderStatusPaymentReceived OrderStatus = "payment_received"
	OrderStatusDocumentReady   OrderStatus = "document_ready"
	OrderStatusAddressVerified OrderStatus = "address_verified"
	OrderStatusDispatched      OrderStatus = "dispatched"
	OrderStatusFulfilled       OrderStatus = "fulfilled"
	OrderStatusAddressInvalid  OrderStatus = "address_invalid"
	OrderStatusFailedPermanent OrderStatus = "failed_permanent"
	OrderStatusRefundRequired  OrderStatus = "refund_required"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPaymentReceived,
	OrderStatusDocumentReady,
	OrderStatusAddressVerified,
	OrderStatusDispatched,
	OrderStatusFulfilled,
	OrderStatusAddressInvalid,
	OrderStatusFailedPermanent,
	OrderStatusRefundRequired,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further automated transition leaves the state.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFulfilled, OrderStatusAddressInvalid, OrderStatusFailedPermanent, OrderStatusRefundRequired:
		return true
	default:
		return false
	}
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
