// Package logging provides the process-wide structured logging setup.
//
// It is a thin layer over log/slog: each subsystem obtains a module logger
// via GetLogger("source"), GetLogger("encoder") and so on, and Initialize
// configures the shared handler chain once at startup. Records fan out to
// stdout (text or json), the systemd journal when the process runs under
// systemd, and an in-memory ring buffer that the status API serves as a
// log tail.
//
// Module log levels can be tuned individually through Config.Modules,
// falling back to the global level.
package logging
