package cluster

import "bytes"

// SlotCount is the number of hash slots the key space is split into.
const SlotCount = 16384

var crc16tab [256]uint16

func init() {
	for i := range crc16tab {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		crc16tab[i] = crc
	}
}

// crc16 is CRC-16/XMODEM (polynomial 0x1021, zero init).
func crc16(b []byte) uint16 {
	var crc uint16
	for _, c := range b {
		crc = crc<<8 ^ crc16tab[byte(crc>>8)^c]
	}
	return crc
}

// Slot returns the hash slot of key. If the key contains a non-empty {tag}
// (first '{' up to the next '}'), only the tag is hashed.
func Slot(key []byte) int {
	if s := bytes.IndexByte(key, '{'); s >= 0 {
		if e := bytes.IndexByte(key[s+1:], '}'); e > 0 {
			key = key[s+1 : s+1+e]
		}
	}
	return int(crc16(key)) % SlotCount
}

// SlotString is Slot for string keys.
func SlotString(key string) int {
	return Slot([]byte(key))
}
