/*
Package concurrency provides the low-level primitives the worker runtime
builds its bounded execution pool and registry guard on top of.

Features:
  - SmartMutex / SmartRWMutex: Deadlock detection and slow lock logging,
    used to guard the handler registry during its brief registration window.
  - Semaphore: Weighted counting semaphore, the admission-control primitive
    behind pkg/pool's bounded worker pool.
  - SafeGo: goroutine launch with panic recovery and logging, used for the
    runtime's own background loops (not for handler invocations, which must
    be allowed to crash the process on a fatal fault per the job processor's
    failure policy).
*/
package concurrency
