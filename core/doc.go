// Package core implements apartment-affine dispatch for Go.
//
// An Apartment is an execution context bound to a single Thread. Objects
// constructed as ClassAffine belong to the apartment that created them and
// every call into them executes on that apartment's thread: calls made from
// the owner run inline, calls made from anywhere else are queued on the
// owner's inbox and the caller blocks (pumping its own inbox, if it hosts
// one) until the owner pumps the request.
//
// ClassAgile objects carry no affinity and execute on whichever thread
// invokes them.
//
// The AgileTable hands out AgileHandle values that are plain data: they can
// be copied, encoded and sent anywhere, and resolving one always yields a
// Proxy routing to the apartment that owned the target at wrap time.
//
// Go has no goroutine identity, so the current Thread travels in the
// context.Context passed to every dispatching call. Use Runtime.Go to start
// a thread and Runtime.Enter to adopt the calling goroutine.
package core
