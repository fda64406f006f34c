package tgui

import "divulgabot/internal/transport"

// ConfirmRow builds a 2-button approve/reject row.
func ConfirmRow(yes, no transport.Button) []transport.Button {
	return []transport.Button{yes, no}
}
