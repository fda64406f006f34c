package tgui

import "strings"

// Data builds callback data "route:action[:payload]" as the router splits
// it. Telegram caps the whole string at 64 bytes, so payloads stay short
// (ids and page numbers).
func Data(route, action, payload string) string {
	d := strings.TrimSpace(route) + ":" + strings.TrimSpace(action)
	if payload != "" {
		d += ":" + payload
	}
	return d
}
