package pricing

import (
	"errors"

	"github.com/holiman/uint256"
)

// Arithmetic errors.
var (
	// ErrDivisionByZero is returned when backing or supply is empty.
	ErrDivisionByZero = errors.New("pricing: division by zero")

	// ErrOverflow is returned when a result does not fit in 64 bits.
	ErrOverflow = errors.New("pricing: result overflows u64")
)

// MulDiv returns floor(a*b/d) computed in 256-bit precision.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrDivisionByZero
	}
	z := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	z.Div(z, uint256.NewInt(d))
	return narrow(z)
}

// MulDivCeil returns ceil(a*b/d) computed in 256-bit precision.
func MulDivCeil(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrDivisionByZero
	}
	z := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	z.AddUint64(z, d-1)
	z.Div(z, uint256.NewInt(d))
	return narrow(z)
}

func narrow(z *uint256.Int) (uint64, error) {
	if !z.IsUint64() {
		return 0, ErrOverflow
	}
	return z.Uint64(), nil
}

// SaturatingSub returns a-b, or 0 when b > a.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, ErrOverflow
	}
	return s, nil
}
