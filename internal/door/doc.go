// Package door sends door commands to access controllers and reads door
// state back. Commands go through the controller's Online session and are
// never retried.
//
// CommandHandler accepts the same commands over MQTT and answers each
// with an ack and a retained door state message.
package door
