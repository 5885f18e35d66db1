package dto

// PaddleEvent is the envelope of every Paddle Billing notification.
type PaddleEvent struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       PaddleEventData `json:"data"`
}

type PaddleEventData struct {
	ID             string           `json:"id"`
	Status         string           `json:"status"`
	CustomerID     string           `json:"customer_id"`
	SubscriptionID string           `json:"subscription_id"`
	CurrencyCode   string           `json:"currency_code"`
	CustomData     PaddleCustomData `json:"custom_data"`
	Details        PaddleDetails    `json:"details"`
}

// PaddleCustomData is the metadata attached when the checkout was created.
type PaddleCustomData struct {
	AnalysisID string `json:"analysis_id"`
	UserID     string `json:"user_id"`
	Tier       string `json:"tier"`
}

type PaddleDetails struct {
	Totals struct {
		GrandTotal string `json:"grand_total"`
	} `json:"totals"`
}
