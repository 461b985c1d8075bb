// Package permission resolves runtime permission blocks raised while an
// agent subprocess is running.
//
// When a stream normalizer detects that the agent stopped on a
// permission decision, the invocation fails with a *RequiredError. The
// Mediator intercepts that error, asks the caller for an allow/deny
// decision, merges the resulting policy delta into the effective
// environment, and re-invokes the wrapped operation up to a bounded
// number of retries.
package permission
