package onchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature does not recover to (or is
// not accepted by) the claimed signer.
var ErrInvalidSignature = errors.New("onchain: invalid signature")

// VerifyHash checks a signature over a 32-byte digest against the claimed
// signer. EOA signatures are verified by ecrecover; if the signer has
// deployed code, the EIP-1271 isValidSignature path is consulted instead.
func (p *Provider) VerifyHash(ctx context.Context, signer string, digest []byte, signature []byte) error {
	if len(digest) != 32 {
		return fmt.Errorf("onchain: digest must be 32 bytes, got %d", len(digest))
	}

	// EOA path first: most makers are externally-owned accounts.
	if len(signature) == 65 {
		sig := make([]byte, 65)
		copy(sig, signature)
		// Normalize the recovery id: on-chain signatures use 27/28.
		if sig[64] >= 27 {
			sig[64] -= 27
		}
		pub, err := ethcrypto.SigToPub(digest, sig)
		if err == nil {
			recovered := ethcrypto.PubkeyToAddress(*pub)
			if strings.EqualFold(recovered.Hex(), signer) {
				return nil
			}
		}
	}

	// Contract wallet path (EIP-1271).
	code, err := p.GetCode(ctx, signer)
	if err != nil {
		return err
	}
	if len(code) == 0 {
		return ErrInvalidSignature
	}

	data := packIsValidSignature(digest, signature)
	out, err := p.call(ctx, signer, data)
	if err != nil {
		return fmt.Errorf("onchain: eip-1271 check %s: %w", signer, err)
	}
	if len(out) < 4 || !bytes.Equal(out[:4], eip1271MagicValue[:]) {
		return ErrInvalidSignature
	}
	return nil
}

// packIsValidSignature ABI-encodes isValidSignature(bytes32,bytes).
func packIsValidSignature(digest, signature []byte) []byte {
	data := append([]byte{}, selIsValidSignature...)
	data = append(data, pad(digest)...)
	// Offset of the dynamic bytes argument (two head slots).
	data = append(data, pad([]byte{0x40})...)
	data = append(data, pad(big32(len(signature)))...)
	data = append(data, common.RightPadBytes(signature, (len(signature)+31)/32*32)...)
	return data
}

func big32(n int) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}
