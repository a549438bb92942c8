// Package process models one supervised command execution.
//
// A Process is a small state machine (Idle, Pending, Running, Ended) around
// a command that is launched through a Launcher strategy: Local runs it on
// this machine, Remote wraps it in a remote shell invocation and External
// leaves execution to a fan-out driver that reports progress through
// MarkStarted, HandleOutput and Terminate.
//
// Start only enqueues the process to its Scheduler, which performs the
// actual launch, reads the output and calls Terminate exactly once per run.
// Failures of a run are state, never errors: inspect Ok and FinishedOk after
// Wait returns.
//
// # Basic Usage
//
//	p := process.New(sup, process.Shell("uname -a"), process.Local{}, process.Options{
//		Timeout: 10 * time.Second,
//	})
//	if err := p.Run(ctx); err != nil {
//		return err
//	}
//	fmt.Print(p.Stdout())
//
// # Thread Safety
//
// Every exported method is safe for concurrent use. Lifecycle handlers and
// output sinks are called without the process lock held.
package process
