package codec

import "math/bits"

const scatterBits = 16

// Scatter hides the 16 bits of v inside value at positions chosen by cover.
//
// If cover has more than 15 one bits, v is written to the positions where
// cover is 1; otherwise to the positions where cover is 0. Either way there
// are at least 16 such positions. Bits are placed most significant first,
// walking cover from bit 31 down. Positions not selected keep the bits of
// value, which are random cover in practice.
func Scatter(cover, value uint32, v uint16) uint32 {
	ones := bits.OnesCount32(cover) >= scatterBits
	slot := scatterBits - 1
	for i := 31; i >= 0 && slot >= 0; i-- {
		if (cover>>uint(i)&1 == 1) != ones {
			continue
		}
		if v>>uint(slot)&1 == 1 {
			value |= 1 << uint(i)
		} else {
			value &^= 1 << uint(i)
		}
		slot--
	}
	return value
}

// Unscatter recovers the value hidden by Scatter.
func Unscatter(cover, scattered uint32) uint16 {
	ones := bits.OnesCount32(cover) >= scatterBits
	var v uint16
	slot := scatterBits - 1
	for i := 31; i >= 0 && slot >= 0; i-- {
		if (cover>>uint(i)&1 == 1) != ones {
			continue
		}
		if scattered>>uint(i)&1 == 1 {
			v |= 1 << uint(slot)
		}
		slot--
	}
	return v
}
