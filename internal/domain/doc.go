// Package domain defines core data models and interfaces shared across the app.
// It contains plain types (wire frame, flags, events) and contracts
// (transport, key/value persistence) only.
package domain
