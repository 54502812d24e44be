package crypto

import (
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealAndOpenKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hex.EncodeToString(ethcrypto.FromECDSA(key))

	blob, err := SealKey("0x"+keyHex, "correct horse")
	require.NoError(t, err)

	opened, err := OpenKey(blob, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), ethcrypto.PubkeyToAddress(opened.PublicKey))

	_, err = OpenKey(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadKeySources(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hex.EncodeToString(ethcrypto.FromECDSA(key))
	want := ethcrypto.PubkeyToAddress(key.PublicKey)

	raw, err := LoadKey(KeySource{RawPrivateKey: keyHex})
	require.NoError(t, err)
	assert.Equal(t, want, ethcrypto.PubkeyToAddress(raw.PublicKey))

	blob, err := SealKey(keyHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	fromFile, err := LoadKey(KeySource{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, want, ethcrypto.PubkeyToAddress(fromFile.PublicKey))

	_, err = LoadKey(KeySource{})
	assert.Error(t, err)

	_, err = LoadKey(KeySource{RawPrivateKey: "0x1234"})
	assert.Error(t, err)
}

func TestWalletSignsForItsAddress(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	w := NewWallet(key, big.NewInt(31337))

	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(31337),
		Nonce:     1,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(0),
	})
	signed, err := w.SignTx(tx)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), signed)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), from)
}
