package token

import (
	"math/big"
	"strconv"
	"strings"
)

// ToBaseUnits converts a human-readable amount into the asset's fixed-point
// integer representation. Precision beyond the asset's decimals is truncated.
func ToBaseUnits(amount float64, decimals int) *big.Int {
	if amount <= 0 {
		return new(big.Int)
	}
	scaled := new(big.Float).SetFloat64(amount)
	scaled.Mul(scaled, pow10Float(decimals))
	out, _ := scaled.Int(nil)
	return out
}

// FromBaseUnits converts a fixed-point integer amount into a human-readable
// value using the asset's decimals.
func FromBaseUnits(amount *big.Int, decimals int) float64 {
	if amount == nil || amount.Sign() == 0 {
		return 0
	}
	v := new(big.Float).SetInt(amount)
	v.Quo(v, pow10Float(decimals))
	out, _ := v.Float64()
	return out
}

// FormatAmount renders a human-readable amount, trimming trailing zeros.
// Values below the dust threshold render as "0".
func FormatAmount(amount float64, decimals int, dustThreshold float64) string {
	if amount < dustThreshold {
		return "0"
	}
	if decimals > 8 {
		decimals = 8
	}
	s := strconv.FormatFloat(amount, 'f', decimals, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "" {
		return "0"
	}
	return s
}

func pow10Float(decimals int) *big.Float {
	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Float).SetInt(pow)
}
