package coins

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20MetadataABI = `[
  {"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20MetadataABI)

func mustParseABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

// TokenMetadata is what a token contract reports about itself.
type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals *int
}

// MetadataSource fetches token metadata for a contract.
type MetadataSource interface {
	TokenMetadata(ctx context.Context, contract string) (TokenMetadata, error)
}

// ContractCaller is the subset of *ethclient.Client the reader needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ERC20Reader reads name, symbol and decimals through eth_call.
type ERC20Reader struct {
	client ContractCaller
}

func NewERC20Reader(client ContractCaller) *ERC20Reader {
	return &ERC20Reader{client: client}
}

func (r *ERC20Reader) TokenMetadata(ctx context.Context, contract string) (TokenMetadata, error) {
	if !common.IsHexAddress(contract) {
		return TokenMetadata{}, fmt.Errorf("invalid contract address %q", contract)
	}
	addr := common.HexToAddress(contract)

	var md TokenMetadata

	symbol, err := r.callString(ctx, addr, "symbol")
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("symbol: %w", err)
	}
	md.Symbol = symbol

	// name and decimals are optional in the wild
	if name, err := r.callString(ctx, addr, "name"); err == nil {
		md.Name = name
	}
	if out, err := r.call(ctx, addr, "decimals"); err == nil && len(out) == 1 {
		if d, ok := out[0].(uint8); ok {
			v := int(d)
			md.Decimals = &v
		}
	}
	return md, nil
}

func (r *ERC20Reader) callString(ctx context.Context, addr common.Address, method string) (string, error) {
	out, err := r.call(ctx, addr, method)
	if err != nil {
		return "", err
	}
	if len(out) != 1 {
		return "", fmt.Errorf("%s: unexpected output", method)
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected output type %T", method, out[0])
	}
	return s, nil
}

func (r *ERC20Reader) call(ctx context.Context, addr common.Address, method string) ([]any, error) {
	input, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, err
	}
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: input}, nil)
	if err != nil {
		return nil, err
	}
	return erc20ABI.Unpack(method, raw)
}
