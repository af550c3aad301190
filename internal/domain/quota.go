package domain

// AccountPlan names the quota tier assigned to an account; QuotaLedger looks
// up the per-minute and per-day send ceilings for a plan before reserving a
// send slot.
type AccountPlan string

const (
	PlanFree       AccountPlan = "free"
	PlanStandard   AccountPlan = "standard"
	PlanEnterprise AccountPlan = "enterprise"
)

// QuotaWindow is one plan's rate ceilings, mirroring the minute/day windows
// enforced atomically by QuotaLedger.Reserve.
type QuotaWindow struct {
	Plan           AccountPlan
	PerMinuteLimit int
	PerDayLimit    int
}

// DefaultQuotaWindows is the built-in plan table; quota.NewLedger uses it
// unless given a replacement per-plan table. Limits are per plan only; there
// are no per-account overrides.
var DefaultQuotaWindows = map[AccountPlan]QuotaWindow{
	PlanFree:       {Plan: PlanFree, PerMinuteLimit: 10, PerDayLimit: 200},
	PlanStandard:   {Plan: PlanStandard, PerMinuteLimit: 60, PerDayLimit: 5000},
	PlanEnterprise: {Plan: PlanEnterprise, PerMinuteLimit: 600, PerDayLimit: 200000},
}
