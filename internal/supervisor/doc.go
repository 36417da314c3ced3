// Package supervisor runs the upstream note application as a child process.
//
// # Lifecycle
//
// A Supervisor moves through these phases:
//
//	idle -> running -> exited
//	             \-> signaled -> waiting -> exited
//	                                   \-> escalated
//
// Start spawns the child unless one is already live. The child's port is
// exported through every configured environment variable, stdio is
// inherited, and on unix the child leads its own process group so signals
// reach anything it forks.
//
// An unexpected exit clears the handle and logs the exit status or signal.
// With restart enabled a new child is started after a delay; once shutdown
// begins no restart happens. EnsureRunning is the hook for callers that saw
// the upstream fail and want it back.
//
// Shutdown sends SIGTERM, waits up to the stop timeout, then escalates to
// SIGKILL. It always returns the phase it ended in and never an error.
package supervisor
