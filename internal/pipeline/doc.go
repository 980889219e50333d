// Package pipeline provides the step-chain execution engine that drives one
// request through an ordered list of steps.
//
// # Model
//
// A Pipeline is bound to a single target value (normally a request task) and
// runs its steps strictly in append order. Each step returns a Result:
//
//   - Continue() advances to the next step
//   - Fail(err) aborts to the error handler
//   - Suspend(cancel) parks the pipeline until the step's Callback is called,
//     typically from the goroutine of an asynchronous sub-operation
//
// Exactly one of the success and error handlers runs, exactly once. All state
// transitions are compare-and-set, so a completing step and a concurrent
// Cancel can race safely: whichever wins the transition out of StateExecute
// decides the outcome.
//
// # Task
//
// Task holds the per-request payload (consumable once), the request state and
// the cancellation callbacks registered by steps that started outstanding work.
package pipeline
