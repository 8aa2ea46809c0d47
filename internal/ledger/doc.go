// Package ledger keeps asset balances for settlement transfers and loads the
// asset registry with its genesis balances.
package ledger
