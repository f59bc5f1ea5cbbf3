// Package api implements the reporter's local HTTP status and control API.
//
// This package provides:
//   - Status endpoints for connections, sensors and actuators
//   - Command injection into an actuator, as if it arrived on a connection
//   - Refresh and reload triggers
//   - Reading history from the state store, when one is configured
//   - A WebSocket feed of published readings and actuator echoes
//
// # Architecture
//
// The server never holds devices itself. Every request goes through the
// Runtime it was given, so a reload that rebuilds all devices is invisible
// to the API. Readings and echoes reach WebSocket clients through the
// ReadingPublished and StateEchoed hooks.
//
// The API is meant for the local network: it has no authentication and
// binds to 127.0.0.1 unless configured otherwise.
package api
