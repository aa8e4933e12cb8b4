package notification

import (
	"fmt"

	"github.com/congo-pay/tipvault/internal/amount"
	"github.com/congo-pay/tipvault/internal/chain"
	"github.com/congo-pay/tipvault/internal/identity"
)

// CoinSymbol is appended to formatted amounts.
const CoinSymbol = "XEL"

// DepositMessage tells user a confirmed deposit was credited.
func DepositMessage(user identity.UserIdentity, units uint64, hash chain.Hash) Message {
	return Message{
		Kind:        KindDeposit,
		Recipient:   user,
		Title:       "Deposit",
		Description: fmt.Sprintf("You received %s %s", amount.Format(units), CoinSymbol),
		Fields:      []Field{{Name: "Transaction", Value: hash.String()}},
	}
}

// TransferMessage tells the recipient of a tip who sent it.
func TransferMessage(from, to identity.UserIdentity, units uint64) Message {
	return Message{
		Kind:        KindTransfer,
		Recipient:   to,
		Title:       "Tip",
		Description: fmt.Sprintf("You received %s %s", amount.Format(units), CoinSymbol),
		Fields:      []Field{{Name: "From", Value: from.String(), Inline: true}},
	}
}

// WithdrawalMessage confirms a submitted withdrawal to its owner.
func WithdrawalMessage(user identity.UserIdentity, units, fee uint64, destination chain.Address, hash chain.Hash) Message {
	return Message{
		Kind:        KindWithdrawal,
		Recipient:   user,
		Title:       "Withdraw",
		Description: fmt.Sprintf("You withdrew %s %s", amount.Format(units), CoinSymbol),
		Fields: []Field{
			{Name: "Fee", Value: amount.Format(fee), Inline: true},
			{Name: "Address", Value: destination.String()},
			{Name: "Transaction", Value: hash.String()},
		},
	}
}
