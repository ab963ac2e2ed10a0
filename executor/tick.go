package executor

// KRX price tick ladder. Order prices must land on a tick boundary or the
// exchange rejects the order.
func tickSize(price int64) int64 {
	switch {
	case price < 2000:
		return 1
	case price < 5000:
		return 5
	case price < 20000:
		return 10
	case price < 50000:
		return 50
	case price < 200000:
		return 100
	case price < 500000:
		return 500
	default:
		return 1000
	}
}

// AlignTick rounds a price down to the nearest valid tick.
func AlignTick(price int64) int64 {
	t := tickSize(price)
	return price - price%t
}
