// Package reporter assembles and runs one reporter instance from its
// configuration.
//
// Start builds, in order:
//  1. every connection, each wrapped in a connection.Resilient
//  2. every actuator, bound to its command sources and echo destinations
//  3. every sensor, bound to its destinations and registered with the
//     scheduler
//
// and then starts the connections concurrently and the scheduler. A device
// that cannot be built is logged and skipped; Start only fails when no
// connection at all can be built.
//
// Reload is a full Stop followed by a full Start with the new
// configuration. Nothing is carried over except what the state store
// persisted.
package reporter
