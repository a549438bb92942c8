// Package conductor runs processes: a Supervisor launches the processes
// submitted to it, reads all of their output from one goroutine, fires
// their timeouts and reports their end.
//
// The Supervisor goroutine sleeps in poll(2) over every registered output
// descriptor and a wakeup pipe, with a timeout equal to the time left
// before the earliest process deadline. Other goroutines talk to it by
// queueing actions (start, reschedule, exited) and writing to the wakeup
// pipe.
//
// Lock order is process lock before supervisor lock. The supervisor never
// takes a process lock while holding its own.
package conductor
