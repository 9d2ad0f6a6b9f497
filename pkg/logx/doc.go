// Package logx configures alarmd's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Noisy call sites bounded through rate-limited derived loggers
package logx
