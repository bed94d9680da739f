// Package event provides a pub-sub event bus that decouples the orchestration
// core from its observers.
//
// The orchestrator and the phase executors publish lifecycle events; the
// metrics collector and logging subscribe to them. Publishers never know who
// is listening, and a nil *Bus accepts and drops every event.
//
// # Event Categories
//
// Run lifecycle:
//   - [RunStartedEvent], [RunFinishedEvent]
//
// Phase lifecycle:
//   - [PhaseStartedEvent]: emitted after resume partitioning
//   - [PhaseFinishedEvent]: emitted after execution and review
//
// Tasks:
//   - [TaskStartedEvent], [TaskFinishedEvent]
//   - [TaskResumedEvent]: a task found already completed in git
//
// Review and stacking:
//   - [ReviewVerdictEvent], [StackingWarningEvent]
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Parallel task goroutines publish
// concurrently; handlers run synchronously on the publishing goroutine and
// must be safe for concurrent calls. A panicking handler is logged and does
// not prevent delivery to the others.
//
// # Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeTaskFinished, func(e event.Event) {
//	    done := e.(event.TaskFinishedEvent)
//	    ...
//	})
//	bus.Publish(event.NewTaskStartedEvent(runID, "1-1", path))
package event
