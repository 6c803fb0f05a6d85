// Package checksum implements the frame trailer checksum.
//
// The wire uses CRC-32/MPEG-2: polynomial 0x04C11DB7, register seeded with
// 0xFFFFFFFF, bytes shifted in MSB first, no reflection and no final XOR.
// hash/crc32 only implements the reflected form, so the table lives here.
package checksum

const (
	Polynomial uint32 = 0x04C11DB7
	Initial    uint32 = 0xFFFFFFFF
)

var table = makeTable(Polynomial)

func makeTable(poly uint32) *[256]uint32 {
	t := new([256]uint32)
	for i := range t {
		crc := uint32(i) << 24
		for range 8 {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// MPEG2 returns the CRC-32/MPEG-2 of b.
func MPEG2(b []byte) uint32 {
	return Update(Initial, b)
}

// Update continues a running checksum over b.
func Update(crc uint32, b []byte) uint32 {
	for _, v := range b {
		crc = crc<<8 ^ table[byte(crc>>24)^v]
	}
	return crc
}
