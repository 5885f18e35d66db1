package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AnalysisStatus is the lifecycle state of an analysis record.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "pending"
	StatusPaid       AnalysisStatus = "paid"
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusError      AnalysisStatus = "error"
)

var statusRank = map[AnalysisStatus]int{
	StatusPending:    0,
	StatusPaid:       1,
	StatusProcessing: 2,
	StatusCompleted:  3,
	StatusError:      3,
}

// Terminal reports whether no further transitions can occur.
func (s AnalysisStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle monotonic.
func (s AnalysisStatus) CanAdvanceTo(next AnalysisStatus) bool {
	if s.Terminal() {
		return false
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceURL    SourceType = "url"
)

// Analysis is one submitted recording and its lifecycle state.
type Analysis struct {
	ID                    uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID                uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	FileName              string         `gorm:"type:text;not null" json:"file_name"`
	AudioPath             string         `gorm:"type:text" json:"-"`
	SourceType            SourceType     `gorm:"size:10;not null" json:"source_type"`
	Tier                  PlanTier       `gorm:"size:10;not null" json:"tier"`
	Status                AnalysisStatus `gorm:"size:20;not null;index" json:"status"`
	PaymentTransactionRef *string        `gorm:"column:paddle_transaction_id;size:64" json:"-"`
	Transcript            *string        `gorm:"type:text" json:"-"`
	Result                datatypes.JSON `gorm:"type:jsonb" json:"result"`
	ErrorMessage          *string        `gorm:"column:processing_error;type:text" json:"error"`
	ProcessingAttempts    int            `gorm:"not null" json:"-"`
	LeaseExpiresAt        *time.Time     `json:"-"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `gorm:"index" json:"updated_at"`
}

func (Analysis) TableName() string {
	return "analyses"
}

// AnalysisResult is the structured output the analysis model must return.
type AnalysisResult struct {
	Summary string `json:"summary"`
	Parties []struct {
		Name string `json:"name"`
		Role string `json:"role"`
	} `json:"parties"`
	Commitments []struct {
		Speaker    string  `json:"speaker"`
		Commitment string  `json:"commitment"`
		Quote      string  `json:"quote"`
		Timestamp  *string `json:"timestamp,omitempty"`
	} `json:"commitments"`
	Deadlines []struct {
		Description string `json:"description"`
		Date        string `json:"date"`
		Speaker     string `json:"speaker"`
	} `json:"deadlines"`
	FinancialTerms []struct {
		Description string  `json:"description"`
		Amount      *string `json:"amount,omitempty"`
		Speaker     string  `json:"speaker"`
	} `json:"financialTerms"`
	LiabilityStatements []struct {
		Speaker   string `json:"speaker"`
		Statement string `json:"statement"`
		Quote     string `json:"quote"`
	} `json:"liabilityStatements"`
	RedFlags []struct {
		Issue    string  `json:"issue"`
		Severity string  `json:"severity"`
		Quote    *string `json:"quote,omitempty"`
	} `json:"redFlags"`
	AmbiguousTerms []struct {
		Term            string `json:"term"`
		Interpretation1 string `json:"interpretation1"`
		Interpretation2 string `json:"interpretation2"`
	} `json:"ambiguousTerms"`
	ActionItems []struct {
		Action     string  `json:"action"`
		AssignedTo string  `json:"assignedTo"`
		Deadline   *string `json:"deadline,omitempty"`
	} `json:"actionItems"`
	RiskScore       float64 `json:"riskScore"`
	RiskExplanation string  `json:"riskExplanation"`
	Duration        string  `json:"duration"`
	WordCount       int     `json:"wordCount"`
}
