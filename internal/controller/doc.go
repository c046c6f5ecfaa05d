// Package controller stores the access controllers the gateway manages.
//
// Records live in SQLite with passwords sealed by SecretBox. StatusTracker
// mirrors session state onto the records so the last known status survives
// restarts.
package controller
