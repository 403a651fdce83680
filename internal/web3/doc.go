// Package web3 holds the session layer the contract provider consumes: the
// read-only connection handle plus the standard and gasless signers. Gasless
// transactions are relayed by a fee sponsor. Concrete EVM dialing lives in
// the ethereum subpackage; network metadata is described by a YAML file.
package web3
