package pix

import "testing"

func TestCRC16CCITT(t *testing.T) {
	cases := []struct {
		in   string
		want uint16
	}{
		// Standard check value for CRC-16/CCITT-FALSE.
		{"123456789", 0x29B1},
		{"", 0xFFFF},
		{"A", 0xB915},
	}
	for _, c := range cases {
		if got := crc16ccitt([]byte(c.in)); got != c.want {
			t.Errorf("crc16ccitt(%q) = %#04X, want %#04X", c.in, got, c.want)
		}
	}
}
