package pix

// crc16table is the lookup table for CRC-16/CCITT-FALSE (poly 0x1021),
// the checksum mandated by the EMV QR specification.
var crc16table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		crc16table[i] = crc
	}
}

// crc16ccitt computes CRC-16/CCITT-FALSE (init 0xFFFF, no reflection,
// no final xor) over data.
func crc16ccitt(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = (crc << 8) ^ crc16table[byte(crc>>8)^b]
	}
	return crc
}
