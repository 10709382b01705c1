package register

import (
	"fmt"
	"strings"
)

const maxRegisterValue = 0xFFFF

// PackTimeValue converts a time stored as HH*100+MM into the register
// encoding HH*256+MM. 1915 becomes 19*256+15 = 4879 (0x130f).
func PackTimeValue(hhmm int) int {
	return (hhmm/100)*256 + hhmm%100
}

// BuildMultiRegisterPayload renders registers start..end as one block
// write payload: four lowercase hex digits per register, ascending, no
// separators.
//
// Each register takes its override when present, else its base value.
// Registers with neither are written as 0 and returned in missing so the
// caller can log them. Values whose encoding is a packed time go through
// PackTimeValue first; everything else is written as the raw integer.
func BuildMultiRegisterPayload(base, overrides map[int]int, meta map[int]Encoding, start, end int) (payload string, missing []int, err error) {
	if start > end {
		return "", nil, fmt.Errorf("%w: %d..%d", ErrInvalidRange, start, end)
	}

	var b strings.Builder
	b.Grow((end - start + 1) * 4)

	for n := start; n <= end; n++ {
		v, ok := overrides[n]
		if !ok {
			v, ok = base[n]
		}
		if !ok {
			missing = append(missing, n)
			v = 0
		}

		if meta[n].PackedTime() {
			v = PackTimeValue(v)
		}
		if v < 0 || v > maxRegisterValue {
			return "", nil, fmt.Errorf("%w: register %d = %d", ErrValueOutOfRange, n, v)
		}
		fmt.Fprintf(&b, "%04x", v)
	}

	return b.String(), missing, nil
}
