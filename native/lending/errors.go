package lending

import "errors"

var (
	ErrUnauthorized = errors.New("lending: unauthorized")

	ErrInvalidSetting   = errors.New("lending: invalid setting")
	ErrInvalidAllowance = errors.New("lending: finite allowance must be below the unlimited sentinel")

	ErrInsufficientCash      = errors.New("lending: insufficient cash")
	ErrInsufficientLiquidity = errors.New("lending: insufficient liquidity")
	ErrInsufficientShortfall = errors.New("lending: insufficient shortfall")
	ErrLiquidatingTooMuch    = errors.New("lending: liquidating too much")
	ErrBorrowNotAllowed      = errors.New("lending: borrow not allowed")

	ErrInsufficientRepay        = errors.New("lending: insufficient actual repay")
	ErrInsufficientRedeemTokens = errors.New("lending: insufficient redeem tokens")
	ErrMintAmountZero           = errors.New("lending: mint amount zero")
	ErrRedeemAmountZero         = errors.New("lending: redeem amount zero")
	ErrInsufficientShares       = errors.New("lending: transfer amount exceeds share balance")

	ErrInvalidSignature = errors.New("lending: invalid signature")
	ErrExpired          = errors.New("lending: permit expired")

	ErrReentered = errors.New("lending: reentered")

	ErrOverflow         = errors.New("lending: arithmetic overflow")
	ErrUnderflow        = errors.New("lending: arithmetic underflow")
	ErrDivisionByZero   = errors.New("lending: division by zero")
	ErrPriceCalculation = errors.New("lending: price calculation error")

	ErrAlreadyExists      = errors.New("lending: pool already exists")
	ErrNotCreated         = errors.New("lending: pool not created")
	ErrAlreadyInitialized = errors.New("lending: pool already initialized")
	ErrNotInitialized     = errors.New("lending: pool not initialized")
	ErrInvalidBorrowable  = errors.New("lending: invalid borrowable")
	ErrMissingCallee      = errors.New("lending: callback data supplied without a callee")
	ErrNilState           = errors.New("lending: state not configured")
)

// ErrorKind groups failures by cause so callers can react without matching
// every sentinel.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuthorization
	KindParameter
	KindSolvency
	KindRepayment
	KindSignature
	KindReentrancy
	KindArithmetic
	KindRegistry
)

var kindNames = map[ErrorKind]string{
	KindUnknown:       "unknown",
	KindAuthorization: "authorization",
	KindParameter:     "parameter",
	KindSolvency:      "solvency",
	KindRepayment:     "repayment",
	KindSignature:     "signature",
	KindReentrancy:    "reentrancy",
	KindArithmetic:    "arithmetic",
	KindRegistry:      "registry",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrUnauthorized, KindAuthorization},
	{ErrInvalidSetting, KindParameter},
	{ErrInvalidAllowance, KindParameter},
	{ErrInsufficientCash, KindSolvency},
	{ErrInsufficientLiquidity, KindSolvency},
	{ErrInsufficientShortfall, KindSolvency},
	{ErrLiquidatingTooMuch, KindSolvency},
	{ErrBorrowNotAllowed, KindSolvency},
	{ErrInsufficientRepay, KindRepayment},
	{ErrInsufficientRedeemTokens, KindRepayment},
	{ErrMintAmountZero, KindRepayment},
	{ErrRedeemAmountZero, KindRepayment},
	{ErrInsufficientShares, KindSolvency},
	{ErrInvalidSignature, KindSignature},
	{ErrExpired, KindSignature},
	{ErrReentered, KindReentrancy},
	{ErrOverflow, KindArithmetic},
	{ErrUnderflow, KindArithmetic},
	{ErrDivisionByZero, KindArithmetic},
	{ErrPriceCalculation, KindArithmetic},
	{ErrAlreadyExists, KindRegistry},
	{ErrNotCreated, KindRegistry},
	{ErrAlreadyInitialized, KindRegistry},
	{ErrNotInitialized, KindRegistry},
	{ErrInvalidBorrowable, KindRegistry},
	{ErrMissingCallee, KindRegistry},
	{ErrNilState, KindRegistry},
}

// Kind classifies err. Wrapped sentinels are matched with errors.Is.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, entry := range errorKinds {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindUnknown
}
