package language

import "testing"

func TestToISO2(t *testing.T) {
	tests := map[string]string{
		"en":      "en",
		"EN":      "en",
		"eng":     "en",
		"fre":     "fr",
		"ger":     "de",
		"chi":     "zh",
		"dut":     "nl",
		"english": "en",
		"French":  "fr",
		"xy":      "xy",
		"xyz":     "",
		"":        "",
		" ":       "",
	}
	for input, want := range tests {
		if got := ToISO2(input); got != want {
			t.Errorf("ToISO2(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"en":      "English",
		"spa":     "Spanish",
		"fra":     "French",
		"zho":     "Chinese",
		"english": "English",
		"":        "Unknown",
		"xyz":     "XYZ",
	}
	for input, want := range tests {
		if got := DisplayName(input); got != want {
			t.Errorf("DisplayName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		" Japanese ": "ja",
		"deu":        "de",
		"pt":         "pt",
		"yue":        "yue",
		"":           "",
	}
	for input, want := range tests {
		if got := Normalize(input); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}
