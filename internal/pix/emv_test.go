package pix

import (
	"bytes"
	"strings"
	"testing"
)

const testKey = "pagamentos@cinevision.com.br"

func TestEncodePayloadStructure(t *testing.T) {
	desc := "Filme digital"
	p, err := Encode(testKey, "CineVisão Ltda.", "São Paulo", 1999, "CV123ABC", &desc)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	wantSubstrings := []string{
		"000201",             // payload format indicator
		"0014br.gov.bcb.pix", // PIX GUI inside tag 26
		"0128" + testKey,     // receiving key inside tag 26
		"52040000",           // merchant category code
		"5303986",            // currency BRL
		"540519.99",          // amount
		"5802BR",             // country
		"5914CINEVISAO LTDA", // sanitized merchant name
		"6009SAO PAULO",      // sanitized city
		"0508CV123ABC",       // tx ref inside tag 62
	}
	for _, want := range wantSubstrings {
		if !strings.Contains(p.QRCodeText, want) {
			t.Errorf("payload missing %q\npayload: %s", want, p.QRCodeText)
		}
	}

	// The payload ends with the CRC field: tag 63, length 04, 4 hex chars.
	if len(p.QRCodeText) < 8 {
		t.Fatalf("payload too short: %q", p.QRCodeText)
	}
	tail := p.QRCodeText[len(p.QRCodeText)-8:]
	if !strings.HasPrefix(tail, "6304") {
		t.Errorf("payload does not end with CRC field, tail = %q", tail)
	}
	for _, c := range tail[4:] {
		if !strings.ContainsRune("0123456789ABCDEF", c) {
			t.Errorf("CRC contains non-hex or lowercase character %q in %q", c, tail)
		}
	}

	if len(p.PNG) == 0 {
		t.Error("expected a rendered PNG image")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	a, err := Encode(testKey, "CineVision", "Sao Paulo", 4990, "CVREF1", nil)
	if err != nil {
		t.Fatalf("first Encode: %v", err)
	}
	b, err := Encode(testKey, "CineVision", "Sao Paulo", 4990, "CVREF1", nil)
	if err != nil {
		t.Fatalf("second Encode: %v", err)
	}

	if a.QRCodeText != b.QRCodeText {
		t.Errorf("same inputs produced different payloads:\n%s\n%s", a.QRCodeText, b.QRCodeText)
	}
	if !bytes.Equal(a.PNG, b.PNG) {
		t.Error("same inputs produced different PNG bytes")
	}
}

func TestEncodeAmountChangesCRC(t *testing.T) {
	a, err := Encode(testKey, "CineVision", "Sao Paulo", 1999, "CVREF1", nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(testKey, "CineVision", "Sao Paulo", 2000, "CVREF1", nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if a.QRCodeText == b.QRCodeText {
		t.Fatal("one-cent change produced identical payloads")
	}
	if a.QRCodeText[len(a.QRCodeText)-4:] == b.QRCodeText[len(b.QRCodeText)-4:] {
		t.Error("one-cent change did not change the CRC")
	}
}

func TestEncodeOmitsZeroAmount(t *testing.T) {
	p, err := Encode(testKey, "CineVision", "Sao Paulo", 0, "CVREF1", nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	body := p.QRCodeText[:len(p.QRCodeText)-4] // drop CRC value, it is free-form hex
	if strings.Contains(body, "5403") || strings.Contains(body, "5404") {
		t.Errorf("zero amount should omit tag 54 entirely: %s", p.QRCodeText)
	}
}

func TestEncodeRejectsInvalidKey(t *testing.T) {
	if _, err := Encode("not a pix key", "CineVision", "Sao Paulo", 1000, "CVREF1", nil); err == nil {
		t.Error("expected an error for an invalid pix key")
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{1, "0.01"},
		{99, "0.99"},
		{100, "1.00"},
		{1999, "19.99"},
		{123456, "1234.56"},
	}
	for _, c := range cases {
		if got := formatAmount(c.cents); got != c.want {
			t.Errorf("formatAmount(%d) = %q, want %q", c.cents, got, c.want)
		}
	}
}

func TestSanitizeField(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"São Paulo", 15, "SAO PAULO"},
		{"CineVisão Ltda.", 25, "CINEVISAO LTDA"},
		{"açaí & café", 25, "ACAI  CAFE"},
		{"truncated beyond the limit", 9, "TRUNCATED"},
	}
	for _, c := range cases {
		if got := sanitizeField(c.in, c.max); got != c.want {
			t.Errorf("sanitizeField(%q, %d) = %q, want %q", c.in, c.max, got, c.want)
		}
	}
}

func TestValidatePixKey(t *testing.T) {
	cases := []struct {
		key      string
		wantType KeyType
		wantErr  bool
	}{
		{"12345678901", KeyCPF, false},
		{"12345678000195", KeyCNPJ, false},
		{"+5511999887766", KeyPhone, false},
		{"pay@cinevision.com.br", KeyEmail, false},
		{"b6295ee1-f054-4287-9f81-e1f1d1f2c2a3", KeyRandom, false},
		{"", "", true},
		{"   ", "", true},
		{"11999887766X", "", true},
		{"not-a-key", "", true},
	}
	for _, c := range cases {
		got, err := ValidatePixKey(c.key)
		if c.wantErr {
			if err == nil {
				t.Errorf("ValidatePixKey(%q) expected error, got type %s", c.key, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidatePixKey(%q) returned error: %v", c.key, err)
			continue
		}
		if got != c.wantType {
			t.Errorf("ValidatePixKey(%q) = %s, want %s", c.key, got, c.wantType)
		}
	}
}
