package klaviyoapi

import "github.com/data-connectors/source-klaviyo/internal/ratelimit"

// Endpoint keys match the Rate Limiter Registry's per-key table
// (spec.md §3, §6 "a closed set of Klaviyo REST paths each with a
// {burst, steady, scopes} triple"). Budgets below are representative of
// Klaviyo's published API rate limits at the "burst"/"steady" tiers.
const (
	EndpointEvents       = "GET:/events/"
	EndpointProfiles     = "GET:/profiles/"
	EndpointCampaigns    = "GET:/campaigns/"
	EndpointCampaignMsgs = "GET:/campaign-messages/"
	EndpointFlows        = "GET:/flows/"
	EndpointFlowActions  = "GET:/flow-actions/"
	EndpointFlowMessages = "GET:/flow-messages/"
	EndpointTemplates    = "GET:/templates/"
	EndpointMetrics      = "GET:/metrics/"
	EndpointTags         = "GET:/tags/"
	EndpointOAuthToken   = "POST:/oauth/token"
)

// Budgets returns the static {burst, steady, concurrency} table every
// endpoint key must be registered under (spec.md §4.1 "Unknown endpoint
// keys are an implementer error"). maxConcurrency, when positive, caps
// every endpoint's per-key concurrency at that ceiling (performance.
// max_rate_limiter_concurrency); zero or negative leaves the
// per-endpoint defaults below untouched.
func Budgets(maxConcurrency int) map[string]ratelimit.Budget {
	budgets := map[string]ratelimit.Budget{
		EndpointEvents:       {Burst: 350, Steady: 3500, Concurrency: 20},
		EndpointProfiles:     {Burst: 75, Steady: 700, Concurrency: 10},
		EndpointCampaigns:    {Burst: 10, Steady: 150, Concurrency: 5},
		EndpointCampaignMsgs: {Burst: 10, Steady: 150, Concurrency: 5},
		EndpointFlows:        {Burst: 10, Steady: 150, Concurrency: 5},
		EndpointFlowActions:  {Burst: 10, Steady: 150, Concurrency: 5},
		EndpointFlowMessages: {Burst: 10, Steady: 150, Concurrency: 5},
		EndpointTemplates:    {Burst: 10, Steady: 150, Concurrency: 5},
		EndpointMetrics:      {Burst: 10, Steady: 150, Concurrency: 5},
		EndpointTags:         {Burst: 10, Steady: 150, Concurrency: 5},
		// OAuth refresh goes through its own serialized retry.Invoker,
		// not the shared registry, but still carries a conservative
		// budget in case a future caller schedules it through Client.
		EndpointOAuthToken: {Burst: 1, Steady: 60, Concurrency: 1},
	}
	if maxConcurrency > 0 {
		for key, b := range budgets {
			if b.Concurrency > maxConcurrency {
				b.Concurrency = maxConcurrency
				budgets[key] = b
			}
		}
	}
	return budgets
}
