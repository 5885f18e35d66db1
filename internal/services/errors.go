package services

import "errors"

var (
	ErrUnauthorized        = errors.New("please sign in to continue")
	ErrForbidden           = errors.New("not allowed to access this analysis")
	ErrNotFound            = errors.New("analysis not found")
	ErrPaymentRequired     = errors.New("payment required before processing")
	ErrNoPlan              = errors.New("please choose a plan before uploading")
	ErrQuotaExceeded       = errors.New("monthly analysis limit reached")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable, try again shortly")
	ErrPriceNotConfigured  = errors.New("price not configured")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrAnalysisProvider    = errors.New("analysis provider error")
	ErrAnalysisMalformed   = errors.New("analysis response was malformed")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrInvalidInput        = errors.New("invalid input")
	ErrEventInFlight       = errors.New("webhook event is already being processed")
)
