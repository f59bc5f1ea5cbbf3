// Package device defines the shared model of the Gray Logic Reporter's
// sensors and actuators.
//
// Every concrete kind (heartbeat, exec, gpio, modbus, dimmer, relay and the
// rest) implements one of two capability interfaces:
//
//	Sensor            polled by the scheduler when Interval() > 0
//	BackgroundSensor  runs until cancelled, pushing readings through Emit
//	Actuator          accepts command tokens, echoes its State
//
// The package also carries the pieces every kind needs and nothing else:
//
//   - Reading and State, the values that flow through the router
//   - Values, the per-binding mapping of states onto published text
//   - Params, typed access to a device's free-form parameters
//   - The command token vocabulary (ON, OFF, TOGGLE, DIM, STOP)
//   - The error taxonomy (ErrConfiguration, ErrDeviceIO, ErrCommandRejected,
//     ErrConnectivity, ErrTimeout)
//
// # Usage
//
//	level, ok := device.ParseLevel("45")
//	if !ok {
//	    return fmt.Errorf("%w: bad level", device.ErrCommandRejected)
//	}
//
//	v := device.NewValues([]string{"OPEN", "CLOSED"}, false)
//	v.Reading(device.NewStateReading("", "CLOSED", false)) // "CLOSED"
package device
