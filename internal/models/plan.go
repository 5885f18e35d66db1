package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PlanTier is the closed set of pricing tiers.
type PlanTier string

const (
	PlanNone   PlanTier = "none"
	PlanSingle PlanTier = "single"
	PlanBasic  PlanTier = "basic"
	PlanPro    PlanTier = "pro"
)

// ParsePlanTier maps an arbitrary string onto a known tier; unknown values are PlanNone.
func ParsePlanTier(s string) PlanTier {
	switch PlanTier(strings.ToLower(strings.TrimSpace(s))) {
	case PlanSingle:
		return PlanSingle
	case PlanBasic:
		return PlanBasic
	case PlanPro:
		return PlanPro
	default:
		return PlanNone
	}
}

// IsSubscription reports whether the tier is a prepaid monthly quota.
func (t PlanTier) IsSubscription() bool {
	return t == PlanBasic || t == PlanPro
}

// Purchasable reports whether a checkout can be opened for the tier.
func (t PlanTier) Purchasable() bool {
	return t == PlanSingle || t.IsSubscription()
}

// PromptVariant selects the analysis prompt depth.
type PromptVariant int

const (
	PromptStandard PromptVariant = iota
	PromptDetailed
	PromptExhaustive
)

// PlanConfig is the static billing and AI configuration attached to a tier.
type PlanConfig struct {
	Tier          PlanTier
	Name          string
	Price         decimal.Decimal
	MonthlyLimit  int
	Model         string
	MaxTokens     int
	PromptVariant PromptVariant
}

var planCatalog = map[PlanTier]PlanConfig{
	PlanNone: {
		Tier:          PlanNone,
		Name:          "No plan",
		Price:         decimal.Zero,
		Model:         "gpt-4o-mini",
		MaxTokens:     4096,
		PromptVariant: PromptStandard,
	},
	PlanSingle: {
		Tier:          PlanSingle,
		Name:          "Pay Per Use",
		Price:         decimal.RequireFromString("3.99"),
		MonthlyLimit:  0,
		Model:         "gpt-4o-mini",
		MaxTokens:     4096,
		PromptVariant: PromptStandard,
	},
	PlanBasic: {
		Tier:          PlanBasic,
		Name:          "Basic",
		Price:         decimal.RequireFromString("29"),
		MonthlyLimit:  20,
		Model:         "gpt-4o",
		MaxTokens:     6144,
		PromptVariant: PromptDetailed,
	},
	PlanPro: {
		Tier:          PlanPro,
		Name:          "Pro",
		Price:         decimal.RequireFromString("79"),
		MonthlyLimit:  50,
		Model:         "gpt-4o",
		MaxTokens:     8192,
		PromptVariant: PromptExhaustive,
	},
}

// Plan returns the catalog entry for a tier.
func Plan(t PlanTier) PlanConfig {
	if cfg, ok := planCatalog[t]; ok {
		return cfg
	}
	return planCatalog[PlanNone]
}

// PriceIDs maps purchasable tiers to gateway price identifiers injected at deploy time.
type PriceIDs map[PlanTier]string

func (p PriceIDs) For(t PlanTier) string {
	if p == nil {
		return ""
	}
	return p[t]
}
