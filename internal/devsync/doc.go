// Package devsync runs the multi-device sync subsystem for one device.
//
// A Service owns this device's identity, the device registry, the message
// channel and the sendability filter, and wires them to the shared store:
//
//	store change (devices family)  -> debounce -> reconcile
//	store change (messages family) -> debounce -> drain
//	self refresh ticker            -> touch self -> reconcile
//
// Each Service is an explicit instance with a Start/Close lifecycle. Several
// Services can share one store in the same process, which is how the
// integration tests simulate a fleet of devices.
package devsync
