package events

import (
	"encoding/json"
	"time"
)

// Command tags (orchestrator -> step owners).
const (
	CommandReduceStock     = "reduce_stock"
	CommandRollbackStock   = "rollback_stock"
	CommandTakePayment     = "take_payment"
	CommandRollbackPayment = "rollback_payment"
	CommandCreateOrder     = "create_order"
	CommandRollbackOrder   = "rollback_order"
)

// Result tags (step owners -> orchestrator).
const (
	EventStockReduced = "stock_reduced"
	EventPaymentTaken = "payment_taken"
	EventOrderCreated = "order_created"
)

const EventVersion = 1

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Envelope is the wire format for both commands and results. Results carry Status
// and, on failure, Error.
type Envelope struct {
	EventID       string          `json:"event_id"`
	Event         string          `json:"event"`
	EventVersion  int             `json:"event_version"`
	TransactionID string          `json:"transaction_id"`
	Status        Status          `json:"status,omitempty"`
	Error         string          `json:"error,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer,omitempty"`
	Data          json.RawMessage `json:"data"`
}

func (e Envelope) Succeeded() bool { return e.Status == StatusSuccess }

// ---- payloads ----

type StockItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type ReduceStockPayload struct {
	Products []StockItem `json:"products"`
}

type RollbackStockPayload struct {
	Products []StockItem `json:"products,omitempty"`
}

type TakePaymentPayload struct {
	UserEmail     string  `json:"user_email"`
	OrderID       string  `json:"order_id,omitempty"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"payment_method"`
	PaymentStatus string  `json:"payment_status"`
}

type RollbackPaymentPayload struct {
	PaymentID string  `json:"payment_id,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
}

type CreateOrderPayload struct {
	UserEmail       string      `json:"user_email"`
	VendorEmail     string      `json:"vendor_email"`
	DeliveryAddress string      `json:"delivery_address"`
	Description     string      `json:"description,omitempty"`
	Status          string      `json:"status"`
	Items           []OrderItem `json:"items"`
	TotalPrice      float64     `json:"total_price"`
	PaymentMethod   string      `json:"payment_method"`
	PaymentID       string      `json:"payment_id,omitempty"`
}

type RollbackOrderPayload struct {
	OrderID string `json:"order_id,omitempty"`
}

type StockResultPayload struct {
	Products []StockItem `json:"products,omitempty"`
}

type PaymentResultPayload struct {
	PaymentID     string `json:"payment_id"`
	PaymentStatus string `json:"payment_status,omitempty"`
}

type OrderResultPayload struct {
	OrderID string `json:"order_id"`
}
