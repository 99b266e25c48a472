package domain

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// AddressLength is the byte length of an account address.
const AddressLength = 32

// Address errors.
var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrNoProgramAddress = errors.New("unable to find a viable program address")
	ErrSeedTooLong      = errors.New("seed exceeds maximum length")
)

// MaxSeedLength is the maximum length of a single derivation seed.
const MaxSeedLength = 32

const programAddressMarker = "ProgramDerivedAddress"

// Address identifies a user wallet or a protocol-owned account.
type Address [AddressLength]byte

// ZeroAddress is the all-zero address.
var ZeroAddress Address

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != AddressLength {
		return a, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// MustParseAddress is ParseAddress that panics on error. Intended for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the base58 form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// IsOnCurve reports whether the address is a valid ed25519 public key.
// Program-derived addresses are never on the curve.
func (a Address) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(a[:])
	return err == nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// CreateProgramAddress hashes seeds, program id and marker into an address.
// Returns ErrInvalidAddress if the result lands on the ed25519 curve.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	var out Address
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return out, ErrSeedTooLong
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(programAddressMarker))
	copy(out[:], h.Sum(nil))

	if out.IsOnCurve() {
		return ZeroAddress, ErrInvalidAddress
	}
	return out, nil
}

// FindProgramAddress searches bump seeds from 255 down for the first
// off-curve address derived from seeds and programID.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	for bump := 255; bump > 0; bump-- {
		withBump := make([][]byte, 0, len(seeds)+1)
		withBump = append(withBump, seeds...)
		withBump = append(withBump, []byte{byte(bump)})

		addr, err := CreateProgramAddress(withBump, programID)
		if errors.Is(err, ErrSeedTooLong) {
			return ZeroAddress, 0, err
		}
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return ZeroAddress, 0, ErrNoProgramAddress
}

// Seeds for protocol-owned accounts.
var (
	SeedReserveVault   = []byte("reserve_vault")
	SeedCollateralPool = []byte("collateral_pool")
)

// ProtocolAccounts are the protocol-owned accounts derived from a program id.
type ProtocolAccounts struct {
	ProgramID      Address
	ReserveVault   Address // holds the base asset
	CollateralPool Address // holds loan collateral tokens
}

// DeriveProtocolAccounts derives the reserve vault and collateral pool for programID.
func DeriveProtocolAccounts(programID Address) (ProtocolAccounts, error) {
	vault, _, err := FindProgramAddress([][]byte{SeedReserveVault}, programID)
	if err != nil {
		return ProtocolAccounts{}, fmt.Errorf("derive reserve vault: %w", err)
	}
	pool, _, err := FindProgramAddress([][]byte{SeedCollateralPool}, programID)
	if err != nil {
		return ProtocolAccounts{}, fmt.Errorf("derive collateral pool: %w", err)
	}
	return ProtocolAccounts{
		ProgramID:      programID,
		ReserveVault:   vault,
		CollateralPool: pool,
	}, nil
}
