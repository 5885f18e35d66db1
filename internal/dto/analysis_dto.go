package dto

import (
	"time"

	"gorm.io/datatypes"
)

type AnalysisIDRequest struct {
	AnalysisID string `json:"analysisId"`
}

type UploadURLRequest struct {
	URL string `json:"url"`
}

type CreateSubscriptionRequest struct {
	Tier string `json:"tier"`
}

type ProfileRequest struct {
	Email string `json:"email"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type CheckoutResponse struct {
	TransactionID string `json:"transactionId"`
}

// AnalysisView is the stable shape returned by the public status poll.
type AnalysisView struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Result    datatypes.JSON `json:"result"`
	Error     *string        `json:"error"`
	FileName  string         `json:"fileName"`
	CreatedAt time.Time      `json:"createdAt"`
}

type AnalysisSummary struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	SourceType string    `json:"source_type"`
	Tier       string    `json:"tier"`
	Status     string    `json:"status"`
	Error      *string   `json:"error"`
	HasResult  bool      `json:"has_result"`
	CreatedAt  time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DB        string `json:"db"`
}
