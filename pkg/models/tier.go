package models

// Tier names.
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// Unlimited marks a limit that is never enforced.
const Unlimited = -1

// Limit keys, usable in custom_limits overrides.
const (
	LimitMaxConcurrentJobs = "max_concurrent_jobs"
	LimitMaxTasksPerMonth  = "max_tasks_per_month"
	LimitMaxTokensPerMonth = "max_tokens_per_month"
)

// TierLimits are the quotas of a tier.
type TierLimits struct {
	MaxConcurrentJobs int64 `json:"max_concurrent_jobs"`
	MaxTasksPerMonth  int64 `json:"max_tasks_per_month"`
	MaxTokensPerMonth int64 `json:"max_tokens_per_month"`
}

var tiers = map[string]TierLimits{
	TierFree:       {MaxConcurrentJobs: 2, MaxTasksPerMonth: 1000, MaxTokensPerMonth: 100_000},
	TierPro:        {MaxConcurrentJobs: 10, MaxTasksPerMonth: 20_000, MaxTokensPerMonth: 5_000_000},
	TierEnterprise: {MaxConcurrentJobs: Unlimited, MaxTasksPerMonth: Unlimited, MaxTokensPerMonth: Unlimited},
}

// LimitsFor resolves the limits of tier with custom overrides applied.
// Unknown tiers fall back to free.
func LimitsFor(tier string, custom map[string]int64) TierLimits {
	limits, ok := tiers[tier]
	if !ok {
		limits = tiers[TierFree]
	}

	if v, ok := custom[LimitMaxConcurrentJobs]; ok {
		limits.MaxConcurrentJobs = v
	}

	if v, ok := custom[LimitMaxTasksPerMonth]; ok {
		limits.MaxTasksPerMonth = v
	}

	if v, ok := custom[LimitMaxTokensPerMonth]; ok {
		limits.MaxTokensPerMonth = v
	}

	return limits
}
