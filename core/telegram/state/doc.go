// Package state keeps per-user dialogue state for one bot: which step a user
// is on and a few scratch values, plus the handler that consumes the user's
// next message for each step.
package state
