package saga

type Status string

const (
	StatusStarted       Status = "STARTED"
	StatusStockReserved Status = "STOCK_RESERVED"
	StatusPaymentTaken  Status = "PAYMENT_TAKEN"
	StatusOrderCreated  Status = "ORDER_CREATED"
	StatusCompensating  Status = "COMPENSATING"
	StatusFailed        Status = "FAILED"
	StatusCancelled     Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusStarted:       {StatusStockReserved: true, StatusFailed: true, StatusCompensating: true},
	StatusStockReserved: {StatusPaymentTaken: true, StatusCompensating: true},
	StatusPaymentTaken:  {StatusOrderCreated: true, StatusCompensating: true},
	StatusCompensating:  {StatusFailed: true, StatusCancelled: true},
	StatusOrderCreated:  {},
	StatusFailed:        {},
	StatusCancelled:     {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) IsTerminal() bool {
	return s == StatusOrderCreated || s == StatusFailed || s == StatusCancelled
}

// awaiting maps a forward status to the step whose result it waits for.
var awaiting = map[Status]Step{
	StatusStarted:       StepStock,
	StatusStockReserved: StepPayment,
	StatusPaymentTaken:  StepOrder,
}
