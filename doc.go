// Package client is the Go SDK for the Relay chat backend. It maintains a
// client-side cache of users, channels, messages, presence, and buddy
// lists, keeps it fresh from the backend's change feeds, and propagates
// every mutation to subscribers as typed events.
//
// Construct a Client with New over a backend.Store and backend.Auth
// binding (backend/rest for the hosted API, backend/memory for tests and
// local development). Entity instances are identity-stable: repeated
// fetches of the same id return the same pointer, and remote changes
// mutate it in place.
package client
