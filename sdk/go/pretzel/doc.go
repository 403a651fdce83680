// Package pretzel is a Go client for the pretzeld REST API: contract state,
// the standard and gasless mint actions, and the mint ledger.
package pretzel
