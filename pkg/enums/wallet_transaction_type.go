package enums

import "fmt"

// WalletTransactionType labels each append-only ledger entry.
type WalletTransactionType string

const (
	WalletTransactionTypeCredit     WalletTransactionType = "credit"
	WalletTransactionTypeWithdrawal WalletTransactionType = "withdrawal"
)

var validWalletTransactionTypes = []WalletTransactionType{
	WalletTransactionTypeCredit,
	WalletTransactionTypeWithdrawal,
}

// String implements fmt.Stringer.
func (t WalletTransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known WalletTransactionType.
func (t WalletTransactionType) IsValid() bool {
	for _, candidate := range validWalletTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// Sign returns the effect of the entry on the wallet balance.
func (t WalletTransactionType) Sign() int64 {
	if t == WalletTransactionTypeWithdrawal {
		return -1
	}
	return 1
}

// ParseWalletTransactionType converts raw input into a WalletTransactionType.
func ParseWalletTransactionType(value string) (WalletTransactionType, error) {
	for _, candidate := range validWalletTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet transaction type %q", value)
}
