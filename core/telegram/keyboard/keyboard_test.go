package keyboard

import "testing"

func TestInline(t *testing.T) {
	if Inline() != nil {
		t.Fatal("empty keyboard must be nil")
	}
	m := Inline(URL("▶️ Watch", "https://cdn/x.mp4"), Button{Text: "Menu", Unique: "menu", Data: "open"})
	if len(m.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d", len(m.InlineKeyboard))
	}
	first := m.InlineKeyboard[0][0]
	if first.URL != "https://cdn/x.mp4" || first.Text != "▶️ Watch" {
		t.Fatalf("url button = %+v", first)
	}
	second := m.InlineKeyboard[1][0]
	if second.Unique != "menu" || second.Data != "open" {
		t.Fatalf("callback button = %+v", second)
	}
}
