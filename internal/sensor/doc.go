// Package sensor implements the reporter's sensor kinds.
//
//	heartbeat  uptime in milliseconds and as [D:]HH:MM:SS
//	exec       runs a command each poll and publishes its output
//	stream     supervises a long-running command, one reading per line
//	gpio       contact input, polled or edge driven, with button presses
//	modbus     holding or input registers decoded to a number
//
// Build creates a sensor from its configuration entry. Every sensor kind
// satisfies device.Sensor; stream and edge-driven gpio sensors also satisfy
// device.BackgroundSensor.
package sensor
