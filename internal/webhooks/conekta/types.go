package conektawebhook

import "encoding/json"

// Event is the envelope Conekta posts to the webhook endpoint. Only the
// fields the platform consumes are typed.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData wraps the embedded resource.
type EventData struct {
	Object json.RawMessage `json:"object"`
}

// Order is the payload for order.* events. Amounts are integer cents.
type Order struct {
	ID            string            `json:"id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
	CustomerInfo  CustomerInfo      `json:"customer_info"`
}

// CustomerInfo carries the processor-side customer reference.
type CustomerInfo struct {
	CustomerID string `json:"customer_id"`
	Email      string `json:"email"`
}

// Subscription is the payload for subscription.* events. Billing cycle
// boundaries are unix seconds.
type Subscription struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	PlanID            string            `json:"plan_id"`
	CustomerID        string            `json:"customer_id"`
	BillingCycleStart int64             `json:"billing_cycle_start"`
	BillingCycleEnd   int64             `json:"billing_cycle_end"`
	CanceledAt        int64             `json:"canceled_at"`
	Metadata          map[string]string `json:"metadata"`
}
