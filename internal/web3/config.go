package web3

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// NetworkDefinition models the structure of configs/network.yaml.
type NetworkDefinition struct {
	Name            string `yaml:"name"`
	ChainID         int64  `yaml:"chain_id"`
	RPCURL          string `yaml:"rpc_url"`
	RelayRPCURL     string `yaml:"relay_rpc_url"`
	ContractAddress string `yaml:"contract_address"`
	Description     string `yaml:"description"`
}

type networkFile struct {
	Network NetworkDefinition `yaml:"network"`
}

// LoadNetwork parses the YAML file describing the target network. An empty
// path yields an empty definition so callers can rely on JSON config alone.
func LoadNetwork(path string) (NetworkDefinition, error) {
	if strings.TrimSpace(path) == "" {
		return NetworkDefinition{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return NetworkDefinition{}, fmt.Errorf("读取网络配置失败: %w", err)
	}

	var file networkFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return NetworkDefinition{}, fmt.Errorf("解析网络配置失败: %w", err)
	}
	if err := file.Network.Validate(); err != nil {
		return NetworkDefinition{}, err
	}
	return file.Network, nil
}

// Validate checks the fields that can be verified offline.
func (d NetworkDefinition) Validate() error {
	if d.ContractAddress != "" && !common.IsHexAddress(d.ContractAddress) {
		return fmt.Errorf("合约地址格式错误: %s", d.ContractAddress)
	}
	if d.ChainID < 0 {
		return fmt.Errorf("链 ID 不能为负数: %d", d.ChainID)
	}
	return nil
}
