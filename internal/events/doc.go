// Package events subscribes to controller event streams and delivers the
// polled events to registered handlers and sinks.
//
// HandlerRegistry keeps per-controller handler lists keyed by event type,
// with AllEvents as the wildcard. Monitor owns one poll loop per
// subscription; a failed poll drops the device-side subscription and
// resubscribes with the same type set, backing off between failed attempts.
package events
