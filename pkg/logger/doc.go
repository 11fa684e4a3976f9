// Package logger builds the slog loggers shared by the router, the worker
// and the load client. Production environments log JSON; everything else
// logs human-readable text.
package logger
