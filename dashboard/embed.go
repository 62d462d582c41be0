// Package dashboard provides the embedded control page for lightbridge.
//
// The page is compiled into the binary so the bridge ships as a single
// executable. It connects to "/ws", shows the latest sysinfo and status
// lines pushed by the server, and sends commands typed or clicked by the
// user.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the control page.
//
// The filesystem structure is:
//
//	assets/
//	  index.html    - Control page with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
