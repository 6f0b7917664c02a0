// Package nats publishes capture source health over the vehicle's NATS
// telemetry broker and accepts remote control commands.
//
// The uplink degrades gracefully: when the broker is unreachable the
// client keeps reconnecting in the background and publishes become no-ops,
// so the capture pipeline never depends on telemetry availability.
package nats
