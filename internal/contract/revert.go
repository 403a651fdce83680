package contract

import (
	"errors"
	"strings"

	xerrors "PretzelMint/internal/errors"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// codeInternalRPCError is the JSON-RPC "internal error" code wallets and
// relays use to report an execution-reverted transaction.
const codeInternalRPCError = -32603

const reasonDelimiter = ": "

// DecodeRevert recognises an execution-reverted error and returns it as an
// EXECUTION_REVERTED error whose message is the human readable reason. Any
// other error shape, or a nested message without the "prefix: reason" form,
// reports false.
func DecodeRevert(err error) (*xerrors.Error, bool) {
	var rpcErr gethrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.ErrorCode() != codeInternalRPCError {
		return nil, false
	}
	_, reason, found := strings.Cut(nestedMessage(err, rpcErr), reasonDelimiter)
	if !found {
		return nil, false
	}
	return xerrors.Wrap(xerrors.CodeExecutionReverted, err, reason), true
}

func nestedMessage(err error, rpcErr gethrpc.Error) string {
	var dataErr gethrpc.DataError
	if errors.As(err, &dataErr) {
		switch data := dataErr.ErrorData().(type) {
		case map[string]any:
			if msg, ok := data["message"].(string); ok {
				return msg
			}
		case string:
			return data
		}
	}
	return rpcErr.Error()
}
