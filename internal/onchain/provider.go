// Package onchain wraps the Ethereum JSON-RPC provider behind the narrow
// read surface the intake pipeline needs: contract code/balance/storage
// reads, ERC-20/721/1155 balance and approval reads, signature verification
// and operator-filter checks.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Pre-computed 4-byte selectors for the token reads the provider performs.
var (
	selERC20BalanceOf    = selector("balanceOf(address)")
	selERC20Allowance    = selector("allowance(address,address)")
	selERC721OwnerOf     = selector("ownerOf(uint256)")
	selIsApprovedForAll  = selector("isApprovedForAll(address,address)")
	selERC1155BalanceOf  = selector("balanceOf(address,uint256)")
	selIsOperatorAllowed = selector("isOperatorAllowed(address,address)")
	selIsValidSignature  = selector("isValidSignature(bytes32,bytes)")
)

// eip1271MagicValue is the return value a contract wallet yields for a valid
// signature.
var eip1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

func selector(sig string) []byte {
	return ethcrypto.Keccak256([]byte(sig))[:4]
}

func pad(b []byte) []byte {
	return common.LeftPadBytes(b, 32)
}

// Provider is the ethclient-backed on-chain read provider.
type Provider struct {
	ec *ethclient.Client
	// operatorFilterRegistry is the shared registry contract consulted for
	// marketplace blacklisting; empty disables the check.
	operatorFilterRegistry string
}

// Dial connects to the given JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL, operatorFilterRegistry string) (*Provider, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial %s: %w", rpcURL, err)
	}
	return &Provider{ec: ec, operatorFilterRegistry: operatorFilterRegistry}, nil
}

// Close releases the underlying RPC connection.
func (p *Provider) Close() {
	p.ec.Close()
}

// Eth returns the raw *ethclient.Client for callers that need to submit
// transactions.
func (p *Provider) Eth() *ethclient.Client {
	return p.ec
}

// GetCode returns the deployed bytecode at an address.
func (p *Provider) GetCode(ctx context.Context, address string) ([]byte, error) {
	code, err := p.ec.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("onchain: code at %s: %w", address, err)
	}
	return code, nil
}

// GetBalance returns the native-asset balance of an address.
func (p *Provider) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	bal, err := p.ec.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("onchain: balance of %s: %w", address, err)
	}
	return bal, nil
}

// GetStorageAt reads a raw storage slot.
func (p *Provider) GetStorageAt(ctx context.Context, address string, slot [32]byte) ([]byte, error) {
	data, err := p.ec.StorageAt(ctx, common.HexToAddress(address), common.BytesToHash(slot[:]), nil)
	if err != nil {
		return nil, fmt.Errorf("onchain: storage at %s: %w", address, err)
	}
	return data, nil
}

func (p *Provider) call(ctx context.Context, to string, data []byte) ([]byte, error) {
	target := common.HexToAddress(to)
	return p.ec.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
}

// ERC20Balance returns the token balance of owner.
func (p *Provider) ERC20Balance(ctx context.Context, token, owner string) (*big.Int, error) {
	data := append(append([]byte{}, selERC20BalanceOf...), pad(common.HexToAddress(owner).Bytes())...)
	out, err := p.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("onchain: erc20 balance %s/%s: %w", token, owner, err)
	}
	return new(big.Int).SetBytes(out), nil
}

// ERC20Allowance returns the spending allowance owner has granted spender.
func (p *Provider) ERC20Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	data := append(append([]byte{}, selERC20Allowance...),
		append(pad(common.HexToAddress(owner).Bytes()), pad(common.HexToAddress(spender).Bytes())...)...)
	out, err := p.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("onchain: erc20 allowance %s/%s: %w", token, owner, err)
	}
	return new(big.Int).SetBytes(out), nil
}

// ERC721Owner returns the current owner of a token.
func (p *Provider) ERC721Owner(ctx context.Context, token string, tokenID *big.Int) (string, error) {
	data := append(append([]byte{}, selERC721OwnerOf...), pad(tokenID.Bytes())...)
	out, err := p.call(ctx, token, data)
	if err != nil {
		return "", fmt.Errorf("onchain: erc721 owner %s/%s: %w", token, tokenID, err)
	}
	if len(out) < 32 {
		return "", fmt.Errorf("onchain: erc721 owner %s/%s: short response", token, tokenID)
	}
	return strings.ToLower(common.BytesToAddress(out[12:32]).Hex()), nil
}

// NFTApprovedForAll reports whether owner has approved operator on an
// ERC-721/1155 contract.
func (p *Provider) NFTApprovedForAll(ctx context.Context, token, owner, operator string) (bool, error) {
	data := append(append([]byte{}, selIsApprovedForAll...),
		append(pad(common.HexToAddress(owner).Bytes()), pad(common.HexToAddress(operator).Bytes())...)...)
	out, err := p.call(ctx, token, data)
	if err != nil {
		return false, fmt.Errorf("onchain: approved-for-all %s/%s: %w", token, owner, err)
	}
	return new(big.Int).SetBytes(out).Sign() != 0, nil
}

// ERC1155Balance returns the balance of a specific token id.
func (p *Provider) ERC1155Balance(ctx context.Context, token, owner string, tokenID *big.Int) (*big.Int, error) {
	data := append(append([]byte{}, selERC1155BalanceOf...),
		append(pad(common.HexToAddress(owner).Bytes()), pad(tokenID.Bytes())...)...)
	out, err := p.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("onchain: erc1155 balance %s/%s: %w", token, owner, err)
	}
	return new(big.Int).SetBytes(out), nil
}

// OperatorFiltered reports whether any of the given operators is blacklisted
// for the contract by the shared operator-filter registry. A missing registry
// or a registry revert means "not filtered".
func (p *Provider) OperatorFiltered(ctx context.Context, contract string, operators []string) (bool, error) {
	if p.operatorFilterRegistry == "" {
		return false, nil
	}
	for _, op := range operators {
		data := append(append([]byte{}, selIsOperatorAllowed...),
			append(pad(common.HexToAddress(contract).Bytes()), pad(common.HexToAddress(op).Bytes())...)...)
		out, err := p.call(ctx, p.operatorFilterRegistry, data)
		if err != nil {
			// The registry reverts for unregistered contracts; treat any
			// call failure as unfiltered rather than blocking intake.
			return false, nil
		}
		if new(big.Int).SetBytes(out).Sign() == 0 {
			return true, nil
		}
	}
	return false, nil
}
