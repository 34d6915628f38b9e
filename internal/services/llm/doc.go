// Package llm provides an OpenRouter-compatible chat completion client used as
// the remote text-analysis capability.
//
// Each call is a single attempt. Failures are normalized into
// services.CapabilityError values (RateLimited, Timeout, Unavailable,
// InvalidInput) so the analysis orchestrator can apply its own retry policy.
// Retry-After headers are parsed and carried on the error.
//
// DecodeLLMJSON tolerates code fences and surrounding prose; DecodeStrict
// additionally rejects unknown fields and trailing data.
package llm
