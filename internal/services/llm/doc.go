// Package llm provides an OpenAI-compatible chat-completions client used by
// the summarization stage.
//
// # Entry Points
//
// NewClient: construct a client from Config.
// Client.Complete: send system/user prompts, receive free-form text.
// Client.CompleteJSON: same, with a JSON response format and tolerant decoding.
// Client.HealthCheck: verify the API key and model answer a trivial prompt.
//
// # Retry Behaviour
//
// Requests are retried on HTTP 408/429/5xx, empty completions, and network
// timeouts with exponential backoff (base 1s, max 10s, up to 5 attempts by
// default). A Retry-After header overrides the computed delay. Context
// cancellation aborts retries immediately.
//
// # Errors
//
// Failures are tagged with services markers so callers can decide whether a
// stage retry makes sense: 401/403 map to ErrConfiguration, other 4xx to
// ErrValidation, exhausted 429/5xx and empty completions to ErrTransient, and
// deadline overruns to ErrTimeout.
package llm
