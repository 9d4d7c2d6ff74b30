package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// EtherDecimals is the number of wei decimals in one ether
const EtherDecimals = 18

// ParseAmount converts a decimal string into base units with the given number
// of decimals. Extra fractional digits are truncated.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	cleaned := strings.TrimSpace(amount)
	if cleaned == "" {
		return nil, fmt.Errorf("invalid amount: empty")
	}
	if strings.HasPrefix(cleaned, "-") {
		return nil, fmt.Errorf("amount cannot be negative: %s", amount)
	}

	parts := strings.Split(cleaned, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount format: %s", amount)
	}

	whole := parts[0]
	if whole == "" {
		whole = "0"
	}
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	return result, nil
}

// FormatAmount renders base units as a decimal string without trailing zeros
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}

	sign := ""
	abs := new(big.Int).Set(amount)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}

	digits := abs.String()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	frac := strings.TrimRight(digits[len(digits)-decimals:], "0")
	if frac == "" {
		return sign + whole
	}
	return sign + whole + "." + frac
}

// ParseEther converts an ether decimal string such as "1.5" into wei
func ParseEther(amount string) (*big.Int, error) {
	return ParseAmount(amount, EtherDecimals)
}

// FormatEther renders wei as an ether decimal string
func FormatEther(wei *big.Int) string {
	return FormatAmount(wei, EtherDecimals)
}
