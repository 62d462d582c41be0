// Package player is an in-process LED player engine for lightbridge.
//
// It speaks the player's text command language without driving any LED
// hardware, which makes the bridge runnable on a laptop and gives the web
// control page something real to talk to:
//
//	status?   -> playing <pattern>
//	next      -> stop looping, advance to the next pattern
//	prev      -> loop the current pattern
//	sysinfo?  -> sysinfo <version> <hostname> <iface:addr,...>
//	shutdown  -> msg shutting down...  (or "! failed to shut down")
//
// Anything else is answered with "! unknown command".
//
// [Engine.Run] reads the engine's TOML configuration (tglight.toml), then
// rotates through the configured patterns until its context is cancelled.
package player
