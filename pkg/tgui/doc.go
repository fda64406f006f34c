// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders (platform-neutral transport.Keyboard)
//   - Callback data helpers (route:action:payload)
//   - HTML escaping and pagination for directory listings
package tgui
