// Package logx is the structured logging layer: a small Logger value over
// zerolog with readable console output, JSON file output and an optional
// chat sink that forwards warnings to an operator chat (min-level plus rate
// limit).
package logx
