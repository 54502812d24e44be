package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// Wallet signs registry transactions for one account on one chain.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

// NewWallet binds key to chainID.
func NewWallet(key *ecdsa.PrivateKey, chainID *big.Int) *Wallet {
	return &Wallet{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(chainID),
	}
}

// Address is the account the wallet signs for.
func (w *Wallet) Address() common.Address {
	return w.address
}

// ChainID is the chain the wallet signs for.
func (w *Wallet) ChainID() *big.Int {
	return w.signer.ChainID()
}

// SignTx signs an unsigned transaction.
func (w *Wallet) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, w.signer, w.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	return signed, nil
}
