package contract

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	xerrors "PretzelMint/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract methods invoked by the two mint actions.
const (
	MethodMint           = "mint"
	MethodMintWithoutGas = "mintWithoutGas"
)

//go:embed SugarPretzels.json
var sugarPretzelsArtifact []byte

// Meta is the static description every binding is built from.
type Meta struct {
	Address common.Address
	ABI     abi.ABI
}

// LoadMeta pairs the embedded SugarPretzels interface with the deployed address.
func LoadMeta(address string) (Meta, error) {
	if !common.IsHexAddress(address) {
		return Meta{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("合约地址格式错误: %q", address))
	}
	parsed, err := ParseArtifact(sugarPretzelsArtifact)
	if err != nil {
		return Meta{}, err
	}
	return Meta{Address: common.HexToAddress(address), ABI: parsed}, nil
}

// ParseArtifact extracts the ABI from a compiler artifact and checks that both
// mint methods are present.
func ParseArtifact(data []byte) (abi.ABI, error) {
	var doc struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return abi.ABI{}, fmt.Errorf("解析合约产物失败: %w", err)
	}
	if len(doc.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("合约产物缺少 abi 字段")
	}
	parsed, err := abi.JSON(bytes.NewReader(doc.ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("解析 ABI 失败: %w", err)
	}
	for _, method := range []string{MethodMint, MethodMintWithoutGas} {
		if _, ok := parsed.Methods[method]; !ok {
			return abi.ABI{}, fmt.Errorf("ABI 缺少方法 %s", method)
		}
	}
	return parsed, nil
}
