package chain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwavault/internal/crypto"
	"github.com/alanyoungcy/rwavault/internal/domain"
)

var registryAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type fakeBackend struct {
	mu sync.Mutex

	calls      map[string][]byte // method name -> packed output
	callErr    error
	sendErr    error
	receipt    *types.Receipt
	receiptErr error
	sent       []*types.Transaction
}

func (f *fakeBackend) methodName(data []byte) string {
	for name, m := range registryABI.Methods {
		if bytes.Equal(m.ID, data[:4]) {
			return name
		}
	}
	for name, m := range erc20ABI.Methods {
		if bytes.Equal(m.ID, data[:4]) {
			return name
		}
	}
	return ""
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	out, ok := f.calls[f.methodName(msg.Data)]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: big.NewInt(2_000_000_000)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if f.receipt == nil {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func newTestRegistry(t *testing.T, b *fakeBackend) *Registry {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(b, crypto.NewWallet(key, big.NewInt(31337)), RegistryConfig{
		Registry:       registryAddr,
		ReceiptPoll:    5 * time.Millisecond,
		GasLimitBuffer: 1.2,
	}, logger)
}

func packOutputs(t *testing.T, a interface {
	Pack(args ...interface{}) ([]byte, error)
}, args ...interface{}) []byte {
	t.Helper()
	out, err := a.Pack(args...)
	require.NoError(t, err)
	return out
}

func wei(s string) *big.Int {
	v, err := ToWei(decimal.RequireFromString(s))
	if err != nil {
		panic(err)
	}
	return v
}

func detailsOutput(t *testing.T, discount, redemption int64) []byte {
	return packOutputs(t, registryABI.Methods["getAssetDetails"].Outputs,
		wei("1000000"), wei("50"), wei("1200"), wei("500000"), true,
		big.NewInt(1798761600), big.NewInt(discount), big.NewInt(redemption))
}

func TestReadAssetTerms(t *testing.T) {
	b := &fakeBackend{calls: map[string][]byte{"getAssetDetails": detailsOutput(t, 15, 0)}}
	r := newTestRegistry(t, b)

	terms, err := r.ReadAssetTerms(context.Background(), "prop-1")
	require.NoError(t, err)

	assert.Equal(t, "prop-1", terms.AssetID)
	assert.True(t, terms.TokenPrice.Equal(decimal.NewFromInt(50)))
	assert.True(t, terms.TokensSold.Equal(decimal.NewFromInt(1200)))
	assert.True(t, terms.IsActive)
	assert.Equal(t, time.Unix(1798761600, 0).UTC(), terms.MaturityDate)
	assert.True(t, terms.DiscountRate.Equal(decimal.NewFromInt(15)))
	// unset redemption rate reads as par
	assert.True(t, terms.RedemptionRate.Equal(decimal.NewFromInt(100)))
}

func TestReadAssetTermsRejectsBadDiscount(t *testing.T) {
	b := &fakeBackend{calls: map[string][]byte{"getAssetDetails": detailsOutput(t, 100, 110)}}
	_, err := newTestRegistry(t, b).ReadAssetTerms(context.Background(), "prop-1")
	assert.ErrorIs(t, err, domain.ErrInvalidRate)
}

func TestReadBalance(t *testing.T) {
	b := &fakeBackend{calls: map[string][]byte{
		"getUserAssetBalance": packOutputs(t, registryABI.Methods["getUserAssetBalance"].Outputs, wei("12.5")),
	}}
	bal, err := newTestRegistry(t, b).ReadBalance(context.Background(), "prop-1")
	require.NoError(t, err)
	assert.Equal(t, "12.5", bal.String())
}

func TestReadNetworkError(t *testing.T) {
	b := &fakeBackend{callErr: errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")}
	_, err := newTestRegistry(t, b).ReadStaked(context.Background(), "prop-1")
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)
}

func TestSubmitCashOutDecodesPayout(t *testing.T) {
	ev := registryABI.Events["CashedOut"]
	data := packOutputs(t, ev.Inputs.NonIndexed(), "prop-1", wei("1000"), wei("850"))

	b := &fakeBackend{receipt: &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(101),
		Logs: []*types.Log{{
			Address: registryAddr,
			Topics:  []common.Hash{ev.ID, common.Hash{}},
			Data:    data,
		}},
	}}
	r := newTestRegistry(t, b)

	rec, err := r.SubmitCashOut(context.Background(), "prop-1", decimal.NewFromInt(1000))
	require.NoError(t, err)
	require.NotNil(t, rec.AmountOut)
	assert.Equal(t, "850", rec.AmountOut.String())
	assert.Equal(t, uint64(101), rec.BlockNumber)

	require.Len(t, b.sent, 1)
	sent := b.sent[0]
	assert.Equal(t, registryAddr, *sent.To())
	assert.InDelta(t, 120_000, float64(sent.Gas()), 1)

	args, err := registryABI.Methods["earlyCashOut"].Inputs.Unpack(sent.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, "prop-1", args[0])
	assert.Equal(t, 0, wei("1000").Cmp(args[1].(*big.Int)))
}

func TestSubmitRevertedReceipt(t *testing.T) {
	b := &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(7)}}
	rec, err := newTestRegistry(t, b).SubmitStake(context.Background(), "prop-1", decimal.NewFromInt(5))
	assert.ErrorIs(t, err, domain.ErrContractCallRejected)
	assert.NotEmpty(t, rec.TxHash)
}

func TestSubmitSendRejected(t *testing.T) {
	b := &fakeBackend{sendErr: errors.New("insufficient funds for gas * price + value")}
	_, err := newTestRegistry(t, b).SubmitClaim(context.Background(), "prop-1")
	assert.ErrorIs(t, err, domain.ErrContractCallRejected)
}

func TestSubmitReceiptTimeout(t *testing.T) {
	b := &fakeBackend{} // receipt never appears
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := newTestRegistry(t, b).SubmitUnstake(ctx, "prop-1", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrNetworkFailure)
}

func TestApproveSkipsWhenAllowanceCovers(t *testing.T) {
	b := &fakeBackend{calls: map[string][]byte{
		"allowance": packOutputs(t, erc20ABI.Methods["allowance"].Outputs, wei("100")),
	}}
	rec, err := newTestRegistry(t, b).Approve(context.Background(), decimal.NewFromInt(60))
	require.NoError(t, err)
	assert.Empty(t, rec.TxHash)
	assert.Empty(t, b.sent)
}

func TestApproveFailureIsApprovalError(t *testing.T) {
	b := &fakeBackend{
		calls:   map[string][]byte{"allowance": packOutputs(t, erc20ABI.Methods["allowance"].Outputs, big.NewInt(0))},
		sendErr: errors.New("user rejected transaction"),
	}
	_, err := newTestRegistry(t, b).Approve(context.Background(), decimal.NewFromInt(60))
	assert.ErrorIs(t, err, domain.ErrApprovalFailed)
}

func TestWeiRoundTrip(t *testing.T) {
	v, err := ToWei(decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())
	assert.Equal(t, "1.5", FromWei(v).String())

	_, err = ToWei(decimal.NewFromInt(-1))
	assert.Error(t, err)
}
