package sales

import (
	"math/rand/v2"
	"strconv"
	"time"
)

const numberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewSaleNumber formats SALE-<last 8 digits of unix ms>-<4 random chars>.
func NewSaleNumber(now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 8 {
		ms = ms[len(ms)-8:]
	}
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = numberAlphabet[rand.IntN(len(numberAlphabet))]
	}
	return "SALE-" + ms + "-" + string(suffix)
}
