// Package audit records who did what to which controller.
//
// Operator actions arriving over REST and MQTT (controller changes, session
// open and close, door commands, logins) are written to the audit_logs
// table. Writes go through a Recorder, which queues entries and stores them
// serially on one goroutine so request handlers never wait on SQLite.
package audit
