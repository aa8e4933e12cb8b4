package wallet

import (
	"github.com/congo-pay/tipvault/internal/chain"
	"github.com/congo-pay/tipvault/internal/reconcile"
)

// Status summarizes the custodial wallet for operators.
type Status struct {
	Network          chain.Network
	Online           bool
	WalletBalance    uint64
	UsersBalance     uint64
	SyncedTopoheight uint64
	StableTopoheight uint64
	State            reconcile.State
	WithdrawalsLock  bool
	PendingDeposits  int
}
