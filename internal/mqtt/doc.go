// Package mqtt publishes an event for every command the pipeline
// executes, so other home automation can react to what the assistant
// did.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a retained "online" message to the
// availability topic; a will message flips it to "offline" on
// unexpected disconnects.
//
// Topics, under the configured prefix:
//
//	<prefix>/availability           online | offline (retained)
//	<prefix>/command/<domain>       one JSON [CommandEvent] per command
package mqtt
