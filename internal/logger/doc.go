// Package logger wraps zap with a process-wide sugared logger and context
// helpers.
//
// The upgrade pipeline carries its logger in the context: every step names
// itself with WithName and attaches the identifiers it works on with WithKV,
// so a single run reads as one structured trail in the console.
package logger
