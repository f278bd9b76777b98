package model

import "strings"

// SourceType identifies a single external data source.
type SourceType string

// Tier is a scheduling bucket. Tiers are attempted in ascending order.
type Tier int

const (
	TierFreeStructured Tier = iota + 1
	TierFreeWeb
	TierFreeNews
	TierPaid
	TierAI
)

// Tiers lists every scheduling tier in escalation order.
var Tiers = []Tier{TierFreeStructured, TierFreeWeb, TierFreeNews, TierPaid, TierAI}

func (t Tier) String() string {
	switch t {
	case TierFreeStructured:
		return "free_structured"
	case TierFreeWeb:
		return "free_web"
	case TierFreeNews:
		return "free_news"
	case TierPaid:
		return "paid"
	case TierAI:
		return "ai"
	default:
		return "unknown"
	}
}

// ParseTier maps a tier name back to its value.
func ParseTier(s string) (Tier, bool) {
	for _, t := range Tiers {
		if t.String() == strings.ToLower(strings.TrimSpace(s)) {
			return t, true
		}
	}
	return 0, false
}

// IsFree reports whether sources in the tier carry no per-query cost.
func (t Tier) IsFree() bool {
	return t < TierPaid
}

// Reliability is a static trust rank of a source category. Higher values
// outrank lower ones; the numeric value carries no other meaning.
type Reliability int

const (
	ReliabilityMarginalEditorial Reliability = iota + 1
	ReliabilityAIModel
	ReliabilitySearchAggregator
	ReliabilityReference
	ReliabilityTier1News
	ReliabilityArchival
)

func (r Reliability) String() string {
	switch r {
	case ReliabilityMarginalEditorial:
		return "marginal_editorial"
	case ReliabilityAIModel:
		return "ai_model"
	case ReliabilitySearchAggregator:
		return "search_aggregator"
	case ReliabilityReference:
		return "reference"
	case ReliabilityTier1News:
		return "tier_1_news"
	case ReliabilityArchival:
		return "archival"
	default:
		return "unknown"
	}
}

// Outranks reports whether r is strictly more trustworthy than other.
func (r Reliability) Outranks(other Reliability) bool {
	return r > other
}
