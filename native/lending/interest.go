package lending

import "github.com/holiman/uint256"

// utilizationRate returns borrows / (borrows + cash), or zero for an empty pool.
func utilizationRate(totalBorrows, totalBalance *uint256.Int) (*uint256.Int, error) {
	actual, err := add(totalBorrows, totalBalance)
	if err != nil {
		return nil, err
	}
	if actual.IsZero() {
		return zero(), nil
	}
	return mulDiv(totalBorrows, mantissaOne, actual)
}

// adjustKinkBorrowRate moves the kink rate toward the borrow rate in
// proportion to their relative distance, the adjust speed and the elapsed
// time. The adjustment factor never drops below zero and the result is
// clamped to [KinkBorrowRateMin, KinkBorrowRateMax].
func adjustKinkBorrowRate(kink, borrowRate, adjustSpeed *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	if elapsed == 0 {
		return clone(kink), nil
	}
	below := borrowRate.Lt(kink)
	var diff *uint256.Int
	if below {
		diff = new(uint256.Int).Sub(kink, borrowRate)
	} else {
		diff = new(uint256.Int).Sub(borrowRate, kink)
	}
	relative, err := mulDiv(diff, mantissaOne, kink)
	if err != nil {
		return nil, err
	}
	tmp, err := mul(relative, adjustSpeed)
	if err != nil {
		return nil, err
	}
	if tmp, err = mul(tmp, u64(elapsed)); err != nil {
		return nil, err
	}
	if tmp, err = div(tmp, mantissaOne); err != nil {
		return nil, err
	}
	var factor *uint256.Int
	if below {
		factor = subFloor(mantissaOne, tmp)
	} else if factor, err = add(mantissaOne, tmp); err != nil {
		return nil, err
	}
	next, err := mulMantissa(kink, factor)
	if err != nil {
		return nil, err
	}
	if next.Lt(KinkBorrowRateMin) {
		return clone(KinkBorrowRateMin), nil
	}
	if next.Gt(KinkBorrowRateMax) {
		return clone(KinkBorrowRateMax), nil
	}
	return next, nil
}

// borrowRateAt evaluates the kinked curve: linear from zero to kink at the
// kink utilization, then linear up to KinkMultiplier × kink at full
// utilization.
func borrowRateAt(kink, kinkUtilization, utilization *uint256.Int) (*uint256.Int, error) {
	if !utilization.Gt(kinkUtilization) {
		return mulDiv(kink, utilization, kinkUtilization)
	}
	excess := new(uint256.Int).Sub(utilization, kinkUtilization)
	headroom, err := sub(mantissaOne, kinkUtilization)
	if err != nil {
		return nil, err
	}
	over, err := mulDiv(excess, mantissaOne, headroom)
	if err != nil {
		return nil, err
	}
	factor, err := mul(u64(KinkMultiplier-1), over)
	if err != nil {
		return nil, err
	}
	if factor, err = add(factor, mantissaOne); err != nil {
		return nil, err
	}
	return mulMantissa(factor, kink)
}

// accrue compounds interest into st up to now and returns the interest
// accumulated. It reports false when no time has elapsed.
func accrue(st *BorrowableState, now uint64) (*uint256.Int, bool, error) {
	if now <= st.AccrualTimestamp {
		return zero(), false, nil
	}
	elapsed := now - st.AccrualTimestamp
	factor, err := mul(st.BorrowRate, u64(elapsed))
	if err != nil {
		return nil, false, err
	}
	interest, err := mulMantissa(factor, st.TotalBorrows)
	if err != nil {
		return nil, false, err
	}
	indexDelta, err := mulMantissa(factor, st.BorrowIndex)
	if err != nil {
		return nil, false, err
	}
	index, err := add(st.BorrowIndex, indexDelta)
	if err != nil {
		return nil, false, err
	}
	total, err := add(st.TotalBorrows, interest)
	if err != nil {
		return nil, false, err
	}
	st.BorrowIndex = index
	st.TotalBorrows = total
	st.AccrualTimestamp = now
	return interest, true, nil
}

// debtAt scales a snapshot principal to the supplied borrow index.
func debtAt(snapshot *BorrowSnapshot, borrowIndex *uint256.Int) (*uint256.Int, error) {
	if snapshot == nil || snapshot.InterestIndex == nil || snapshot.InterestIndex.IsZero() {
		return zero(), nil
	}
	return mulDiv(snapshot.Principal, borrowIndex, snapshot.InterestIndex)
}
