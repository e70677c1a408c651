// Package uuidx generates the identifiers used for runs, submissions and
// subscriptions.
package uuidx

import "github.com/google/uuid"

// New returns a version 7 UUID. They sort by creation time, so run ids and
// submission ids list in the order they were made.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString is New in its canonical string form.
func NewString() string {
	return New().String()
}
