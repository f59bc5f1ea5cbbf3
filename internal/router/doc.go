// Package router moves values between devices and connections.
//
// Sensor readings fan out to every (connection, destination) pair bound to
// the reading's logical output, each with its own value mapping. Commands
// arriving on any of an actuator's command sources fan in to the one
// actuator instance, and its state echoes fan out again to every binding.
//
//	r := router.New(conns, logger)
//	r.BindSensor("door", cfg.Bindings)
//	r.BindActuator(lamp, cfg.Bindings)
//	r.Publish("door", device.NewStateReading("", "OPEN", true))
//
// The package also provides LogicOr, an OR gate over named inputs that is
// bound like an actuator.
package router
