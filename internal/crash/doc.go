// Package crash captures fatal failures of the host process and persists a
// report before the process dies.
//
// Three fault sources are covered: panics reaching a deferred
// [Capturer.Recover], fatal signals delivered to the process, and Go runtime
// fatal errors, which the runtime itself writes to the file registered with
// runtime/debug.SetCrashOutput. All three land in one pre-reserved crash slot
// of the record store and become a single CrashReport record the next time
// the store is opened.
package crash
