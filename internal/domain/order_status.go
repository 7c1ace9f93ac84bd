package domain

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// OrderTransitionPolicy decides which order status changes are allowed.
// Statuses listed in Final block every transition. Statuses with an entry in
// Allowed may only move to the listed targets. Any other status is
// unrestricted.
type OrderTransitionPolicy struct {
	Allowed map[OrderStatus][]OrderStatus
	Final   map[OrderStatus]bool
}

// DefaultOrderTransitionPolicy only constrains pending orders, which may be
// confirmed or cancelled. Pending to processing is not allowed.
func DefaultOrderTransitionPolicy() OrderTransitionPolicy {
	return OrderTransitionPolicy{
		Allowed: map[OrderStatus][]OrderStatus{
			OrderStatusPending: {OrderStatusConfirmed, OrderStatusCancelled},
		},
		Final: map[OrderStatus]bool{
			OrderStatusCompleted: true,
			OrderStatusCancelled: true,
			OrderStatusRefunded:  true,
		},
	}
}

func (p OrderTransitionPolicy) CanTransition(from, to OrderStatus) bool {
	if p.Final[from] {
		return false
	}

	targets, ok := p.Allowed[from]
	if !ok {
		return true
	}

	for _, target := range targets {
		if target == to {
			return true
		}
	}

	return false
}

func (p OrderTransitionPolicy) Transition(from, to OrderStatus) (OrderStatus, error) {
	if !p.CanTransition(from, to) {
		return from, ErrInvalidTransition
	}

	return to, nil
}
