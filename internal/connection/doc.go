// Package connection provides the connectivity layer between devices and
// their messaging endpoints.
//
// A Transport is one concrete endpoint (MQTT broker, event-stream hub,
// in-process bus, InfluxDB sink). Resilient wraps a Transport with the
// behaviour every endpoint shares:
//
//   - A connect loop with a fixed retry delay that never blocks callers
//   - ONLINE/OFFLINE markers on the status destination
//   - Per sensor output reading buffers that are replayed oldest-first
//     after a reconnect
//   - Disconnect and reconnect actions forced onto actuators
//   - Inbound command dispatch keyed by destination, last registration wins
//   - A refresh destination that triggers republishing of cached readings
//   - Passive disconnect detection when a publish is not acknowledged
//
// Concrete transports live in the sub-packages mqttconn, hubconn,
// localconn and influxconn.
package connection
