package models

// Plan identifiers recognized by the limit tables.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// Daily webhook execution limits per plan.
var ExecutionLimits = map[string]int{
	PlanFree: 100,
	PlanPro:  1000,
}

// Endpoint creation limits per plan.
var EndpointCreationLimits = map[string]int{
	PlanFree: 10,
	PlanPro:  100,
}

// Job creation limits per plan.
var JobCreationLimits = map[string]int{
	PlanFree: 10,
	PlanPro:  100,
}

// ExecutionLimit returns the daily execution limit for a plan, falling back
// to the free tier for unknown plans.
func ExecutionLimit(plan string) int {
	if limit, ok := ExecutionLimits[plan]; ok {
		return limit
	}
	return ExecutionLimits[PlanFree]
}

// EndpointCreationLimit returns the endpoint creation quota for a plan.
func EndpointCreationLimit(plan string) int {
	if limit, ok := EndpointCreationLimits[plan]; ok {
		return limit
	}
	return EndpointCreationLimits[PlanFree]
}

// JobCreationLimit returns the job creation quota for a plan.
func JobCreationLimit(plan string) int {
	if limit, ok := JobCreationLimits[plan]; ok {
		return limit
	}
	return JobCreationLimits[PlanFree]
}
