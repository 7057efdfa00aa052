package model

// Wallet kinds. Events of these kinds carry e-cash wallet state or
// wallet-connect traffic and must only travel over the isolated pool.
const (
	KindCashuQuote        = 7374
	KindCashuToken        = 7375
	KindCashuHistory      = 7376
	KindNutzap            = 9321
	KindNutzapInfo        = 10019
	KindCashuWallet       = 17375
	KindCashuWalletLegacy = 37375
	KindWalletInfo        = 13194
	KindWalletRequest     = 23194
	KindWalletResponse    = 23195
	KindWalletNotify      = 23197
)

// Common general kinds used by probes and tests.
const (
	KindMetadata = 0
	KindNote     = 1
	KindContacts = 3
	KindReaction = 7
	KindVideo    = 34235
)

var isolatedKinds = map[int]struct{}{
	KindCashuQuote:        {},
	KindCashuToken:        {},
	KindCashuHistory:      {},
	KindNutzap:            {},
	KindNutzapInfo:        {},
	KindCashuWallet:       {},
	KindCashuWalletLegacy: {},
	KindWalletInfo:        {},
	KindWalletRequest:     {},
	KindWalletResponse:    {},
	KindWalletNotify:      {},
}

// IsIsolatedKind reports whether kind belongs to the isolated (wallet) set.
func IsIsolatedKind(kind int) bool {
	_, ok := isolatedKinds[kind]
	return ok
}

// IsolatedKinds returns the isolated kind set in ascending order.
func IsolatedKinds() []int {
	return []int{
		KindCashuQuote,
		KindCashuToken,
		KindCashuHistory,
		KindNutzap,
		KindNutzapInfo,
		KindWalletInfo,
		KindCashuWallet,
		KindWalletRequest,
		KindWalletResponse,
		KindWalletNotify,
		KindCashuWalletLegacy,
	}
}
