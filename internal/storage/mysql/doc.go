// Package mysql persists ledger balances in MySQL. Transfers lock both balance
// rows and append to a transfer log inside one transaction.
package mysql
