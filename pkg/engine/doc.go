// Package engine provides the event-to-state reconciliation engine for catalysst.
//
// # Overview
//
// Every webhook delivery is handled by an independent, stateless pass through
// the same workflow:
//
//  1. Resolve - Produce the effective repository configuration (ConfigResolver)
//  2. Observe - Read the remote objects owned by this app (Locator)
//  3. Plan - Compute an ordered list of side effects (Planner)
//  4. Apply - Execute the actions against the control plane (Executor)
//  5. Result - Record the outcome of every action (Run)
//
// There is no local state. The status comment, check run, environment and
// deployment records live on the control plane and are rediscovered on every
// event, which makes repeated and out-of-order deliveries safe.
//
// # Stages
//
// A Stage names a deployment target. Ephemeral stages are "pr-<number>" and
// follow a pull request's lifecycle. Static stages are the values of the
// repository's branch mappings and persist across pushes.
//
// # Events
//
//   - pull_request.opened, pull_request.synchronize: post or refresh the status
//     comment, upsert the environment, open a check run, dispatch deploy
//   - deployment_status.created: complete the check run and, for ephemeral
//     stages, rewrite the status comment with the outputs or the failure
//   - pull_request.closed: delete the environment and dispatch remove
//   - push: dispatch deploy for mapped branches and open a check run
//
// # Failure Policies
//
// Each Action carries a FailurePolicy. FailureAbort stops the plan and keeps
// the successful prefix; if a check run was created earlier in the plan it is
// completed with a failure conclusion. FailureContinue records the error and
// moves on. FailureIgnore only logs.
//
// # Error Classification
//
// Errors are classified for redelivery decisions:
//
//   - Transient: Temporary failures that may succeed on retry
//   - Throttled: Rate limiting that requires backoff
//   - Conflict: Rejected writes that may succeed on retry
//   - Permanent: Non-recoverable errors
//
// Absence of a remote object is a permanent error with ErrCodeNotFound and is
// treated as a normal branch:
//
//	if IsNotFound(err) {
//	    // nothing to update
//	}
package engine
