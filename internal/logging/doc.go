// Package logging provides structured logging for orchestration runs.
//
// It wraps log/slog with a JSON handler and carries persistent attributes
// so that every entry emitted while executing a phase can be filtered by
// run, phase and task after the fact.
//
// # Usage
//
//	logger, err := logging.NewLogger(stateDir, "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	taskLog := logger.WithRun("a1b2c3").WithPhase(2).WithTask("2-1")
//	taskLog.Info("task completed", "branch", "a1b2c3-task-2-1-auth")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"task completed","run_id":"a1b2c3","phase":2,"task_id":"2-1","branch":"a1b2c3-task-2-1-auth"}
//
// Child loggers share the parent's writer, so closing the root logger
// closes the file for all of them.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewLoggerWithWriter] with a
// bytes.Buffer to assert on emitted entries.
package logging
