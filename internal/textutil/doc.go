// Package textutil provides small text helpers shared by the mapper and the
// CLI: whitespace collapsing, rune-safe truncation, and a generic ternary.
package textutil
