// Package services provides shared primitives for pipeline stage
// implementations: the error taxonomy used to classify stage failures and
// context annotation helpers for structured logging.
package services
