package ledger

import (
	"context"

	"github.com/congo-pay/tipvault/internal/identity"
)

// SeedBalance is a test helper that overwrites a user's balance.
func SeedBalance(l *Ledger, user identity.UserIdentity, amount uint64) {
	_ = l.Update(context.Background(), func(tx *Tx) error {
		return tx.w.Set(context.Background(), BalancesNamespace, user.Bytes(), encodeAmount(amount))
	})
}
