// Package keyboard builds inline reply markups.
package keyboard

import tele "gopkg.in/telebot.v4"

// Button is an inline button that either opens URL or sends Data back.
type Button struct {
	Text string
	URL  string
	// Unique routes callback data; ignored for URL buttons.
	Unique string
	Data   string
}

// URL returns a button that opens link.
func URL(text, link string) Button {
	return Button{Text: text, URL: link}
}

// Inline builds an inline keyboard with one button per row.
// It returns nil when there are no buttons so no markup is sent.
func Inline(buttons ...Button) *tele.ReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]Button, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []Button{b})
	}
	return InlineRows(rows...)
}

// InlineRows builds an inline keyboard from rows of buttons.
func InlineRows(rows ...[]Button) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				r = append(r, *markup.URL(b.Text, b.URL).Inline())
				continue
			}
			r = append(r, *markup.Data(b.Text, b.Unique, b.Data).Inline())
		}
		inline = append(inline, r)
	}
	markup.InlineKeyboard = inline
	return markup
}
