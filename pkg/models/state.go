package models

// IterationState is the continuation state for one fetch step, owned by
// the invocation host. It is passed in by value, rewritten by the batch
// fetcher, and must survive process teardown between invocations.
type IterationState struct {
	// Iteration is the zero-based invocation index supplied by the host.
	Iteration int `json:"iteration"`
	// Token is the upstream continuation token; empty means no more pages.
	Token string `json:"token,omitempty"`
	// Pages counts pages processed during the last invocation.
	Pages int `json:"pages"`
	// Count is the cumulative number of records discovered this cycle.
	Count int `json:"count"`
	// Limit is the upstream page size, informational only.
	Limit int `json:"limit"`
	// Finished is true once the upstream returned a null token.
	Finished bool `json:"finished"`
}

// ResourceState marks whether a resource category's fetch cycle ran to
// completion. Reconciliation refuses to run until every category has
// FetchCompleted set.
type ResourceState struct {
	FetchCompleted bool `json:"fetchCompleted"`
}
