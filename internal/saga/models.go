package saga

import (
	"strings"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/events"
)

// Record kinds; stored under {kind}_saga:{transaction_id}.
const (
	KindOrder   = "order"
	KindStock   = "stock"
	KindPayment = "payment"
)

type Step string

const (
	StepStock   Step = "stock"
	StepPayment Step = "payment"
	StepOrder   Step = "order"
)

type ReservationStatus string

const (
	ReservationPending  ReservationStatus = "PENDING"
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationFailed   ReservationStatus = "FAILED"
)

const DefaultOrderStatus = "Pending"

type Item struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// StartRequest is the admission payload for a new order saga.
type StartRequest struct {
	UserEmail       string `json:"user_email"`
	VendorEmail     string `json:"vendor_email"`
	DeliveryAddress string `json:"delivery_address"`
	Description     string `json:"description,omitempty"`
	Status          string `json:"status,omitempty"`
	Items           []Item `json:"items"`
	PaymentMethod   string `json:"payment_method"`
}

func (r StartRequest) Validate() error {
	if !events.IsPaymentMethod(r.PaymentMethod) {
		return &ValidationError{Field: "payment_method", Reason: "must be one of " + strings.Join(events.PaymentMethods, ", ")}
	}
	switch {
	case strings.TrimSpace(r.UserEmail) == "":
		return &ValidationError{Field: "user_email", Reason: "required"}
	case strings.TrimSpace(r.VendorEmail) == "":
		return &ValidationError{Field: "vendor_email", Reason: "required"}
	case strings.TrimSpace(r.DeliveryAddress) == "":
		return &ValidationError{Field: "delivery_address", Reason: "required"}
	case len(r.Items) == 0:
		return &ValidationError{Field: "items", Reason: "at least one item required"}
	}
	for _, it := range r.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return &ValidationError{Field: "items.product_id", Reason: "required"}
		}
		if it.Quantity <= 0 {
			return &ValidationError{Field: "items.quantity", Reason: "must be positive"}
		}
		if it.UnitPrice < 0 {
			return &ValidationError{Field: "items.unit_price", Reason: "must not be negative"}
		}
	}
	return nil
}

type StartResult struct {
	TransactionID string  `json:"transaction_id"`
	Status        Status  `json:"status"`
	TotalPrice    float64 `json:"total_price"`
}

// OrderRecord is the orchestrator-owned view of the order for the saga's lifetime.
type OrderRecord struct {
	TransactionID      string    `json:"transaction_id"`
	UserEmail          string    `json:"user_email"`
	VendorEmail        string    `json:"vendor_email"`
	DeliveryAddress    string    `json:"delivery_address"`
	Description        string    `json:"description,omitempty"`
	OrderStatus        string    `json:"order_status"`
	Items              []Item    `json:"items"`
	PaymentMethod      string    `json:"payment_method"`
	Status             Status    `json:"status"`
	CompletedSteps     []Step    `json:"completed_steps,omitempty"`
	CompensatedSteps   []Step    `json:"compensated_steps,omitempty"`
	CompensationTarget Status    `json:"compensation_target,omitempty"`
	FailureReason      string    `json:"failure_reason,omitempty"`
	OrderID            string    `json:"order_id,omitempty"`
	PaymentID          string    `json:"payment_id,omitempty"`
	ReconcileAttempts  int       `json:"reconcile_attempts,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TotalPrice is always derived from the items.
func (o *OrderRecord) TotalPrice() float64 {
	var total float64
	for _, it := range o.Items {
		total += float64(it.Quantity) * it.UnitPrice
	}
	return total
}

func (o *OrderRecord) completed(s Step) bool   { return containsStep(o.CompletedSteps, s) }
func (o *OrderRecord) compensated(s Step) bool { return containsStep(o.CompensatedSteps, s) }

func containsStep(steps []Step, s Step) bool {
	for _, x := range steps {
		if x == s {
			return true
		}
	}
	return false
}

type StockRecord struct {
	TransactionID string             `json:"transaction_id"`
	Reservations  []events.StockItem `json:"reservations"`
	Status        ReservationStatus  `json:"status"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type PaymentRecord struct {
	TransactionID string    `json:"transaction_id"`
	UserEmail     string    `json:"user_email"`
	OrderID       string    `json:"order_id,omitempty"`
	Amount        float64   `json:"amount"`
	PaymentMethod string    `json:"payment_method"`
	PaymentStatus string    `json:"payment_status"`
	PaymentID     string    `json:"payment_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// mergeReservations sums quantities of repeated product ids, keeping first-seen order.
func mergeReservations(items []Item) []events.StockItem {
	idx := make(map[string]int, len(items))
	out := make([]events.StockItem, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, events.StockItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

// StatusView is the read model returned to callers polling a saga.
type StatusView struct {
	TransactionID    string    `json:"transaction_id"`
	Status           Status    `json:"status"`
	TotalPrice       float64   `json:"total_price"`
	CompletedSteps   []Step    `json:"completed_steps"`
	CompensatedSteps []Step    `json:"compensated_steps"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	OrderID          string    `json:"order_id,omitempty"`
	PaymentID        string    `json:"payment_id,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Transition is one journal entry.
type Transition struct {
	TransactionID string    `json:"transaction_id"`
	From          Status    `json:"from,omitempty"`
	To            Status    `json:"to"`
	Event         string    `json:"event,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}
