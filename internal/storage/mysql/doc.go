// Package mysql persists the mint attempt ledger. It ships a file-backed
// memory ledger for local runs and a MySQL ledger with embedded migrations.
package mysql
