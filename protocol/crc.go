package protocol

import "encoding/binary"

const (
	crcPolynomial = 0x04c11db7
	crcSeed       = 0xffffffff
)

// CRCGet computes the CRC-32 of buf: polynomial 0x04C11DB7, processed MSB
// first one bit at a time, seeded with 0xFFFFFFFF, without a final XOR.
func CRCGet(buf []byte) uint32 {
	crc := uint32(crcSeed)
	for _, b := range buf {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRCSet writes the CRC of buf[:len(buf)-CRCSize] big-endian into the last
// CRCSize bytes of buf.
func CRCSet(buf []byte) {
	if len(buf) < CRCSize {
		return
	}
	n := len(buf) - CRCSize
	binary.BigEndian.PutUint32(buf[n:], CRCGet(buf[:n]))
}

// CRCCheck reports whether buf, trailer included, is intact. Running the
// CRC over data followed by its own big-endian CRC leaves a zero register.
func CRCCheck(buf []byte) bool {
	if len(buf) < CRCSize {
		return false
	}
	return CRCGet(buf) == 0
}
