// Package tokens implements a per-tenant token ledger for metered features.
//
// A feature call estimates its cost, inflates it by a safety margin and
// reserves that amount. The reservation escrows tokens before the paid
// operation runs, so concurrent calls for the same tenant can never spend the
// same tokens twice. After the operation the reservation is finalized with
// the actual cost, returning the unused part, or refunded in full on failure.
// Actual usage above the reservation is absorbed and reported, not charged.
//
// Balances are stored in a kv.Store under "tokenBalance:{tenant}" and every
// mutation is a single versioned conditional write retried on conflict.
//
// Basic usage:
//
//	ledger := tokens.NewLedger(store, tokens.WithLogger(log))
//	runner := tokens.NewMetered(ledger)
//
//	usage, err := runner.Run(ctx, shopID, "translate", 1000, func(ctx context.Context) (int64, error) {
//	    return translator.Translate(ctx, text)
//	})
//	if ie, ok := tokens.AsInsufficientBalance(err); ok {
//	    // prompt for a top-up of ie.Shortfall tokens
//	}
//
// A balance has two parts. The included part is the current plan allotment and
// is replaced by SetIncludedTokens on each plan confirmation. The rest comes
// from purchases and grants and survives plan changes. Reservations draw from
// the included part first.
package tokens
