// Package logx configures weatherbot's structured logging.
//
// A thin wrapper (logx.Logger) over zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional operator-chat sink (min-level + rate limiting)
package logx
