package tgui

import "divulgabot/internal/transport"

// Inline is a small builder for inline keyboards.
type Inline struct {
	rows transport.Keyboard
}

func NewInline() *Inline {
	return &Inline{}
}

// Row appends a new row (buttons) to the inline keyboard. Empty rows are skipped.
func (i *Inline) Row(btn ...transport.Button) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, append([]transport.Button(nil), btn...))
	return i
}

// Keyboard returns the built rows, or nil when no row was added.
func (i *Inline) Keyboard() transport.Keyboard {
	if len(i.rows) == 0 {
		return nil
	}
	return i.rows
}

// Options wraps the keyboard into HTML send options.
func (i *Inline) Options() *transport.SendOptions {
	return &transport.SendOptions{ParseMode: "HTML", DisablePreview: true, Keyboard: i.Keyboard()}
}

// Btn creates a callback button. data is sent as-is;
// build it with Data.
func Btn(text, data string) transport.Button {
	return transport.Button{Text: text, Data: data}
}

// URLBtn creates a URL button.
func URLBtn(text, url string) transport.Button {
	return transport.Button{Text: text, URL: url}
}

// Column lays out buttons one per row.
func Column(buttons []transport.Button) transport.Keyboard {
	out := make(transport.Keyboard, 0, len(buttons))
	for _, b := range buttons {
		out = append(out, []transport.Button{b})
	}
	return out
}
