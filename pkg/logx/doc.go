// Package logx is cmdexporter's structured logging layer on top of zerolog.
//
// Components receive a Logger value and derive scoped children with With. Loggers handed
// out by a Service follow later Apply calls, so sinks can be swapped without rewiring.
// The console sink is human-readable with a short caller; the file sink is JSON.
package logx
