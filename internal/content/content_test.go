package content

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"normal", "is this still available?", false},
		{"empty", "", true},
		{"exactly max chars", strings.Repeat("a", MaxTextChars), false},
		{"over max chars", strings.Repeat("a", MaxTextChars+1), true},
		{"over max bytes", strings.Repeat("é", MaxMessageBytes), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
		{"emoji", "\U0001F44D sounds good", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.text)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate(%q) = %v, wantErr %v", truncate(tc.text), err, tc.wantErr)
			}
		})
	}
}

func TestScreenURLs(t *testing.T) {
	flagged := []string{
		"check out https://example.com/item",
		"go to www.mysite.com",
		"buy it on shady.ru/deal",
	}
	for _, text := range flagged {
		if res := Screen(text); !res.Flagged || res.Rule != "url" {
			t.Errorf("Screen(%q) = %+v, want url flag", text, res)
		}
	}

	clean := []string{
		"the v2.0 model",
		"it costs 3.50",
		"meet at the library",
	}
	for _, text := range clean {
		if res := Screen(text); res.Flagged {
			t.Errorf("Screen(%q) flagged as %s, want clean", text, res.Rule)
		}
	}
}

func TestScreenPhoneNumbers(t *testing.T) {
	flagged := []string{
		"call me at 555-123-4567",
		"text (555) 123-4567",
		"whatsapp +1 555 123 4567 ok",
	}
	for _, text := range flagged {
		if res := Screen(text); !res.Flagged || res.Rule != "phone" {
			t.Errorf("Screen(%q) = %+v, want phone flag", text, res)
		}
	}

	if res := Screen("room 214 at 3pm"); res.Flagged {
		t.Errorf("Screen flagged ordinary numbers: %+v", res)
	}
}

func TestScreenFlooding(t *testing.T) {
	if res := Screen("yessssss"); !res.Flagged || res.Rule != "char_flood" {
		t.Errorf("char flood not caught: %+v", res)
	}
	if res := Screen("buy buy buy"); !res.Flagged || res.Rule != "word_flood" {
		t.Errorf("word flood not caught: %+v", res)
	}
	if res := Screen("yes yes definitely"); res.Flagged {
		t.Errorf("two repeats flagged: %+v", res)
	}
}

func truncate(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
