// Package chain is the boundary to the on-chain property registry. It packs
// calls against the registry ABI, signs and sends transactions with the
// investor's wallet, waits for receipts and maps every failure onto the
// domain's external error taxonomy.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/rwavault/internal/crypto"
	"github.com/alanyoungcy/rwavault/internal/domain"
)

// Backend is the subset of the Ethereum JSON-RPC API the registry needs.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Compile-time check that Registry implements domain.AssetLedger.
var _ domain.AssetLedger = (*Registry)(nil)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Registry common.Address
	// Token is the ERC-20 the registry pulls on stake and buy. The zero
	// address means the registry is its own token.
	Token          common.Address
	ReceiptPoll    time.Duration
	GasLimitBuffer float64
}

// Registry implements domain.AssetLedger against a deployed registry.
type Registry struct {
	backend Backend
	wallet  *crypto.Wallet
	cfg     RegistryConfig
	logger  *slog.Logger

	// sendMu serializes nonce assignment.
	sendMu sync.Mutex
}

// Dial connects to rpcURL and returns the client for use as a Backend.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, errors.New("chain: rpc url required")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// NewRegistry creates a Registry.
func NewRegistry(backend Backend, wallet *crypto.Wallet, cfg RegistryConfig, logger *slog.Logger) *Registry {
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = time.Second
	}
	if cfg.GasLimitBuffer < 1 {
		cfg.GasLimitBuffer = 1
	}
	if (cfg.Token == common.Address{}) {
		cfg.Token = cfg.Registry
	}
	return &Registry{
		backend: backend,
		wallet:  wallet,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// Account returns the wallet address as a checksummed hex string.
func (r *Registry) Account() string {
	return r.wallet.Address().Hex()
}

// ReadBalance returns the liquid token balance.
func (r *Registry) ReadBalance(ctx context.Context, assetID string) (decimal.Decimal, error) {
	return r.readAmount(ctx, "getUserAssetBalance", assetID)
}

// ReadStaked returns the staked token balance.
func (r *Registry) ReadStaked(ctx context.Context, assetID string) (decimal.Decimal, error) {
	return r.readAmount(ctx, "getStakedAssetBalance", assetID)
}

// ReadRewards returns the claimable reward amount.
func (r *Registry) ReadRewards(ctx context.Context, assetID string) (decimal.Decimal, error) {
	return r.readAmount(ctx, "getAssetRewards", assetID)
}

func (r *Registry) readAmount(ctx context.Context, method, assetID string) (decimal.Decimal, error) {
	out, err := r.call(ctx, r.cfg.Registry, registryABI.Pack, registryABI.Unpack, method, assetID, r.wallet.Address())
	if err != nil {
		return decimal.Zero, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("chain: %s: unexpected output %T", method, out[0])
	}
	return FromWei(v), nil
}

// ReadAssetTerms decodes getAssetDetails. A redemption rate of zero means the
// registry never set one and reads as par.
func (r *Registry) ReadAssetTerms(ctx context.Context, assetID string) (domain.AssetTerms, error) {
	out, err := r.call(ctx, r.cfg.Registry, registryABI.Pack, registryABI.Unpack, "getAssetDetails", assetID)
	if err != nil {
		return domain.AssetTerms{}, err
	}
	return decodeTerms(assetID, out)
}

func decodeTerms(assetID string, out []interface{}) (domain.AssetTerms, error) {
	if len(out) != 8 {
		return domain.AssetTerms{}, fmt.Errorf("chain: getAssetDetails: %w: %d outputs", domain.ErrInvalidTerms, len(out))
	}
	ints := make([]*big.Int, 8)
	for _, i := range []int{0, 1, 2, 3, 5, 6, 7} {
		v, ok := out[i].(*big.Int)
		if !ok {
			return domain.AssetTerms{}, fmt.Errorf("chain: getAssetDetails: %w: output %d is %T", domain.ErrInvalidTerms, i, out[i])
		}
		ints[i] = v
	}
	active, ok := out[4].(bool)
	if !ok {
		return domain.AssetTerms{}, fmt.Errorf("chain: getAssetDetails: %w: output 4 is %T", domain.ErrInvalidTerms, out[4])
	}

	terms := domain.AssetTerms{
		AssetID:        assetID,
		TotalSupply:    FromWei(ints[0]),
		TokenPrice:     FromWei(ints[1]),
		TokensSold:     FromWei(ints[2]),
		FundingGoal:    FromWei(ints[3]),
		IsActive:       active,
		MaturityDate:   timeFromChain(ints[5]),
		DiscountRate:   percentFromChain(ints[6]),
		RedemptionRate: percentFromChain(ints[7]),
	}
	if terms.RedemptionRate.IsZero() {
		terms.RedemptionRate = decimal.NewFromInt(100)
	}
	if err := terms.Validate(); err != nil {
		return domain.AssetTerms{}, fmt.Errorf("chain: asset %s: %w", assetID, err)
	}
	return terms, nil
}

// Approve grants the registry an allowance of at least amount on the token.
// When the current allowance already covers amount no transaction is sent
// and the receipt has an empty hash.
func (r *Registry) Approve(ctx context.Context, amount decimal.Decimal) (domain.Receipt, error) {
	wei, err := ToWei(amount)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("%w: %v", domain.ErrApprovalFailed, err)
	}

	out, err := r.call(ctx, r.cfg.Token, erc20ABI.Pack, erc20ABI.Unpack, "allowance", r.wallet.Address(), r.cfg.Registry)
	if err == nil {
		if current, ok := out[0].(*big.Int); ok && current.Cmp(wei) >= 0 {
			return domain.Receipt{}, nil
		}
	} else {
		r.logger.WarnContext(ctx, "allowance read failed, approving anyway", slog.String("error", err.Error()))
	}

	data, err := erc20ABI.Pack("approve", r.cfg.Registry, wei)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("%w: pack approve: %v", domain.ErrApprovalFailed, err)
	}
	rec, err := r.transact(ctx, r.cfg.Token, "approve", data)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("%w: %v", domain.ErrApprovalFailed, err)
	}
	return rec, nil
}

// SubmitBuy buys tokens of assetID from the primary offering.
func (r *Registry) SubmitBuy(ctx context.Context, assetID string, tokens decimal.Decimal) (domain.Receipt, error) {
	return r.submitAmount(ctx, "buyPropertyTokens", assetID, tokens)
}

// SubmitStake stakes liquid tokens.
func (r *Registry) SubmitStake(ctx context.Context, assetID string, amount decimal.Decimal) (domain.Receipt, error) {
	return r.submitAmount(ctx, "stakeAsset", assetID, amount)
}

// SubmitUnstake returns staked tokens to the liquid balance.
func (r *Registry) SubmitUnstake(ctx context.Context, assetID string, amount decimal.Decimal) (domain.Receipt, error) {
	return r.submitAmount(ctx, "unstakeAsset", assetID, amount)
}

// SubmitClaim claims all accrued rewards.
func (r *Registry) SubmitClaim(ctx context.Context, assetID string) (domain.Receipt, error) {
	data, err := registryABI.Pack("claimAssetYield", assetID)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("chain: pack claimAssetYield: %w", err)
	}
	return r.transact(ctx, r.cfg.Registry, "claimAssetYield", data)
}

// SubmitCashOut exits early at the asset's discount.
func (r *Registry) SubmitCashOut(ctx context.Context, assetID string, amount decimal.Decimal) (domain.Receipt, error) {
	return r.submitAmount(ctx, "earlyCashOut", assetID, amount)
}

// SubmitRedeem redeems at maturity.
func (r *Registry) SubmitRedeem(ctx context.Context, assetID string, amount decimal.Decimal) (domain.Receipt, error) {
	return r.submitAmount(ctx, "redeem", assetID, amount)
}

func (r *Registry) submitAmount(ctx context.Context, method, assetID string, amount decimal.Decimal) (domain.Receipt, error) {
	wei, err := ToWei(amount)
	if err != nil {
		return domain.Receipt{}, err
	}
	data, err := registryABI.Pack(method, assetID, wei)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	return r.transact(ctx, r.cfg.Registry, method, data)
}

type packFunc func(name string, args ...interface{}) ([]byte, error)
type unpackFunc func(name string, data []byte) ([]interface{}, error)

func (r *Registry) call(ctx context.Context, to common.Address, pack packFunc, unpack unpackFunc, method string, args ...interface{}) ([]interface{}, error) {
	data, err := pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	raw, err := r.backend.CallContract(ctx, ethereum.CallMsg{From: r.wallet.Address(), To: &to, Data: data}, nil)
	if err != nil {
		return nil, classify(method, err)
	}
	out, err := unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: decode: %v", domain.ErrContractCallRejected, method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s: empty result", domain.ErrContractCallRejected, method)
	}
	return out, nil
}

// transact signs, sends and waits for one transaction.
func (r *Registry) transact(ctx context.Context, to common.Address, method string, data []byte) (domain.Receipt, error) {
	signed, err := r.send(ctx, to, method, data)
	if err != nil {
		return domain.Receipt{}, err
	}

	log := r.logger.With(slog.String("method", method), slog.String("tx_hash", signed.Hash().Hex()))
	log.InfoContext(ctx, "transaction sent")

	receipt, err := r.waitMined(ctx, signed.Hash())
	if err != nil {
		return domain.Receipt{TxHash: signed.Hash().Hex()}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		log.WarnContext(ctx, "transaction reverted", slog.Uint64("block", receipt.BlockNumber.Uint64()))
		return domain.Receipt{TxHash: signed.Hash().Hex()}, fmt.Errorf("%w: %s: transaction %s reverted", domain.ErrContractCallRejected, method, signed.Hash().Hex())
	}

	out := domain.Receipt{TxHash: signed.Hash().Hex()}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	out.AmountOut = r.payoutFromLogs(receipt.Logs)
	log.InfoContext(ctx, "transaction mined", slog.Uint64("block", out.BlockNumber))
	return out, nil
}

func (r *Registry) send(ctx context.Context, to common.Address, method string, data []byte) (*types.Transaction, error) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	from := r.wallet.Address()
	gas, err := r.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, classify(method+": estimate gas", err)
	}
	gas = uint64(float64(gas) * r.cfg.GasLimitBuffer)

	nonce, err := r.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, classify(method+": nonce", err)
	}
	tip, err := r.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, classify(method+": gas tip", err)
	}
	head, err := r.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, classify(method+": head", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   r.wallet.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := r.wallet.SignTx(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrContractCallRejected, method, err)
	}
	if err := r.backend.SendTransaction(ctx, signed); err != nil {
		return nil, classify(method+": send", err)
	}
	return signed, nil
}

// waitMined polls for the receipt until it appears or ctx ends. Transient
// lookup errors are logged and retried.
func (r *Registry) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(r.cfg.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := r.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			r.logger.DebugContext(ctx, "receipt lookup failed",
				slog.String("tx_hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: receipt for %s not observed: %v", domain.ErrNetworkFailure, hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// payoutFromLogs reads the payout of a CashedOut or Redeemed event emitted by
// the registry, if any.
func (r *Registry) payoutFromLogs(logs []*types.Log) *decimal.Decimal {
	for _, lg := range logs {
		if lg == nil || lg.Address != r.cfg.Registry || len(lg.Topics) == 0 {
			continue
		}
		for _, name := range []string{"CashedOut", "Redeemed"} {
			ev := registryABI.Events[name]
			if lg.Topics[0] != ev.ID {
				continue
			}
			vals, err := registryABI.Unpack(name, lg.Data)
			if err != nil || len(vals) != 3 {
				r.logger.Warn("undecodable payout event", slog.String("event", name))
				continue
			}
			if v, ok := vals[2].(*big.Int); ok {
				amt := FromWei(v)
				return &amt
			}
		}
	}
	return nil
}
