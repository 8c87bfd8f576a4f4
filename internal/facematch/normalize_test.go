package facematch

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Honza", "Honza"},
		{"Jiří", "Jiri"},
		{"café", "cafe"},
		{"naïve", "naive"},
		{"hello", "hello"},
		{"Žluťoučký kůň", "Zlutoucky kun"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := RemoveDiacritics(tt.input)
			if result != tt.expected {
				t.Errorf("RemoveDiacritics(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Jan Novák", "jan novak"},
		{"jan-novak", "jan novak"},
		{"jan_novak_2", "jan novak 2"},
		{"JOHN DOE", "john doe"},
		{"jan-novák", "jan novak"},
		{"  alice   smith ", "alice smith"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := NormalizeLabel(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeLabel(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
