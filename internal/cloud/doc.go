// Package cloud wraps the BytePlus open APIs the autoscaler depends on:
// CloudMonitor for ALB QPS metrics and AutoScaling for scaling group
// inspection and capacity changes.
//
// All requests go through a shared Client that signs them with the
// HMAC-SHA256 v4 scheme the BytePlus gateway expects (see signer.go).
// There is no official Go SDK for these services, so the wire format is
// implemented directly against the documented request shapes.
//
// CloudMonitorSource implements collector.Source for "alb:" references;
// AutoScalingBackend implements interfaces.CapacityBackend.
package cloud
