package events

import (
	"errors"
	"fmt"
	"strings"
)

// Payment methods and statuses accepted across the saga.
const (
	PaymentCreditCard     = "Credit Card"
	PaymentDebitCard      = "Debit Card"
	PaymentCashOnDelivery = "Cash on Delivery"

	PaymentPending = "Pending"
	PaymentFailed  = "Failed"
	PaymentSuccess = "Success"
	PaymentRefund  = "Refund"
)

var PaymentMethods = []string{PaymentCreditCard, PaymentDebitCard, PaymentCashOnDelivery}

func IsPaymentMethod(m string) bool {
	for _, pm := range PaymentMethods {
		if pm == m {
			return true
		}
	}
	return false
}

func isPaymentStatus(s string) bool {
	switch s {
	case PaymentPending, PaymentFailed, PaymentSuccess, PaymentRefund:
		return true
	}
	return false
}

func validateStockItems(items []StockItem) error {
	if len(items) == 0 {
		return errors.New("products must not be empty")
	}
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("products[%d]: missing product_id", i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("products[%d]: quantity must be positive", i)
		}
	}
	return nil
}

func (p *ReduceStockPayload) Validate() error { return validateStockItems(p.Products) }

// Rollback may be sent without a product list; the stock owner then releases
// whatever it holds for the transaction.
func (p *RollbackStockPayload) Validate() error {
	if len(p.Products) == 0 {
		return nil
	}
	return validateStockItems(p.Products)
}

func (p *TakePaymentPayload) Validate() error {
	switch {
	case strings.TrimSpace(p.UserEmail) == "":
		return errors.New("missing user_email")
	case p.Amount < 0:
		return errors.New("amount must not be negative")
	case !IsPaymentMethod(p.PaymentMethod):
		return fmt.Errorf("unsupported payment_method %q", p.PaymentMethod)
	case !isPaymentStatus(p.PaymentStatus):
		return fmt.Errorf("unknown payment_status %q", p.PaymentStatus)
	}
	return nil
}

func (p *RollbackPaymentPayload) Validate() error {
	if p.Amount < 0 {
		return errors.New("amount must not be negative")
	}
	return nil
}

func (p *CreateOrderPayload) Validate() error {
	switch {
	case strings.TrimSpace(p.UserEmail) == "":
		return errors.New("missing user_email")
	case strings.TrimSpace(p.VendorEmail) == "":
		return errors.New("missing vendor_email")
	case strings.TrimSpace(p.DeliveryAddress) == "":
		return errors.New("missing delivery_address")
	case len(p.Items) == 0:
		return errors.New("items must not be empty")
	case !IsPaymentMethod(p.PaymentMethod):
		return fmt.Errorf("unsupported payment_method %q", p.PaymentMethod)
	}
	for i, it := range p.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("items[%d]: missing product_id", i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("items[%d]: quantity must be positive", i)
		}
		if it.UnitPrice < 0 {
			return fmt.Errorf("items[%d]: unit_price must not be negative", i)
		}
	}
	return nil
}

func (p *RollbackOrderPayload) Validate() error { return nil }

func (p *StockResultPayload) Validate() error { return nil }

func (p *PaymentResultPayload) Validate() error {
	if strings.TrimSpace(p.PaymentID) == "" {
		return errors.New("missing payment_id")
	}
	return nil
}

func (p *OrderResultPayload) Validate() error {
	if strings.TrimSpace(p.OrderID) == "" {
		return errors.New("missing order_id")
	}
	return nil
}
