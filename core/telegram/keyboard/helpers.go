package keyboard

import tele "gopkg.in/telebot.v4"

// InlineBtn describes one inline button. URL and WebApp take precedence
// over callback data; Unique, when set, uses telebot's "\f<unique>|<data>"
// encoding, otherwise Data is sent verbatim.
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
	URL    string
	WebApp string
}

// Inline converts b into a telebot inline button.
func (b InlineBtn) Inline() tele.InlineButton {
	switch {
	case b.URL != "":
		return tele.InlineButton{Text: b.Text, URL: b.URL}
	case b.WebApp != "":
		return tele.InlineButton{Text: b.Text, WebApp: &tele.WebApp{URL: b.WebApp}}
	case b.Unique != "":
		return tele.InlineButton{Text: b.Text, Unique: b.Unique, Data: b.Data}
	}
	return tele.InlineButton{Text: b.Text, Data: b.Data}
}

// InlineButtons builds an inline keyboard where each provided button is placed on its own row.
func InlineButtons(buttons []InlineBtn) *tele.ReplyMarkup {
	rows := make([][]InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []InlineBtn{b})
	}
	return InlineButtonsRows(rows...)
}

// InlineButtonsRows builds an inline keyboard from rows of InlineBtn. Empty
// rows are skipped.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tele.InlineButton, len(row))
		for j, btn := range row {
			r[j] = btn.Inline()
		}
		inline = append(inline, r)
	}
	return &tele.ReplyMarkup{InlineKeyboard: inline}
}

// InlineButtonsNPerRow splits a flat list of buttons into rows with up to n buttons per row.
// If n <= 1, it behaves like InlineButtons (one per row).
func InlineButtonsNPerRow(buttons []InlineBtn, n int) *tele.ReplyMarkup {
	if n <= 1 {
		return InlineButtons(buttons)
	}
	var rows [][]InlineBtn
	for i := 0; i < len(buttons); i += n {
		end := min(i+n, len(buttons))
		rows = append(rows, buttons[i:end])
	}
	return InlineButtonsRows(rows...)
}
