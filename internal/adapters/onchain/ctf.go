package onchain

// ctf.go — operaciones on-chain del CTF (Conditional Token Framework) de Polymarket.
//
//   split: 100 USDC.e → 100 YES + 100 NO
//   merge: 100 YES + 100 NO → 100 USDC.e
//
// Los mercados neg-risk pasan por el NegRiskAdapter, que expone la misma
// operación con solo (conditionId, amount).

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polymm/internal/domain"
)

const (
	polygonChainID = int64(137)

	// USDC.e collateral on Polygon
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// CTF contract — holds conditional tokens (ERC1155)
	ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	// Exchange contracts that need ERC1155 setApprovalForAll
	normalExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	negRiskAdapter  = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"

	// Gas limits (conservative upper bounds)
	collateralGasLimit = uint64(250_000)
	approvalGasLimit   = uint64(80_000)

	gasPriceUpdateInterval = 5 * time.Minute
	receiptTimeout         = 60 * time.Second
	defaultReceiptPoll     = 3 * time.Second
)

// Contract ABIs
var (
	ctfABI     abi.ABI
	adapterABI abi.ABI
	erc1155ABI abi.ABI
	erc20ABI   abi.ABI
)

func init() {
	ctfABI = mustABI("ctf", `[
		{"name":"splitPosition","type":"function","outputs":[],"inputs":[
			{"name":"collateralToken","type":"address"},
			{"name":"parentCollectionId","type":"bytes32"},
			{"name":"conditionId","type":"bytes32"},
			{"name":"partition","type":"uint256[]"},
			{"name":"amount","type":"uint256"}]},
		{"name":"mergePositions","type":"function","outputs":[],"inputs":[
			{"name":"collateralToken","type":"address"},
			{"name":"parentCollectionId","type":"bytes32"},
			{"name":"conditionId","type":"bytes32"},
			{"name":"partition","type":"uint256[]"},
			{"name":"amount","type":"uint256"}]}
	]`)

	adapterABI = mustABI("neg-risk adapter", `[
		{"name":"splitPosition","type":"function","outputs":[],"inputs":[
			{"name":"_conditionId","type":"bytes32"},
			{"name":"_amount","type":"uint256"}]},
		{"name":"mergePositions","type":"function","outputs":[],"inputs":[
			{"name":"_conditionId","type":"bytes32"},
			{"name":"_amount","type":"uint256"}]}
	]`)

	erc1155ABI = mustABI("erc1155", `[
		{"name":"setApprovalForAll","type":"function","outputs":[],"inputs":[
			{"name":"operator","type":"address"},
			{"name":"approved","type":"bool"}]},
		{"name":"isApprovedForAll","type":"function","outputs":[{"name":"","type":"bool"}],"inputs":[
			{"name":"account","type":"address"},
			{"name":"operator","type":"address"}]},
		{"name":"balanceOf","type":"function","outputs":[{"name":"","type":"uint256"}],"inputs":[
			{"name":"account","type":"address"},
			{"name":"id","type":"uint256"}]}
	]`)

	erc20ABI = mustABI("erc20", `[
		{"name":"approve","type":"function","outputs":[{"name":"","type":"bool"}],"inputs":[
			{"name":"spender","type":"address"},
			{"name":"amount","type":"uint256"}]},
		{"name":"allowance","type":"function","outputs":[{"name":"","type":"uint256"}],"inputs":[
			{"name":"owner","type":"address"},
			{"name":"spender","type":"address"}]},
		{"name":"balanceOf","type":"function","outputs":[{"name":"","type":"uint256"}],"inputs":[
			{"name":"account","type":"address"}]}
	]`)
}

func mustABI(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(name + " abi parse: " + err.Error())
	}
	return parsed
}

// Chain es el subconjunto de ethclient.Client que usa el CTFClient.
type Chain interface {
	ethereum.ContractCaller
	ethereum.GasPricer
	ethereum.GasEstimator
	ethereum.TransactionSender
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// CTFClient implements ports.Collateral and reads USDC.e / ERC-1155 balances.
type CTFClient struct {
	chain       Chain
	key         *ecdsa.PrivateKey
	address     common.Address
	prices      *POLPrice
	receiptPoll time.Duration

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// Dial conecta con el RPC de Polygon y crea el cliente.
// privateKeyHex puede llevar o no el prefijo 0x.
func Dial(rpcURL, privateKeyHex string) (*CTFClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain.Dial: rpc %s: %w", rpcURL, err)
	}
	return NewCTFClient(client, privateKeyHex, NewPOLPrice(""))
}

// NewCTFClient crea el cliente sobre una Chain ya conectada.
func NewCTFClient(chain Chain, privateKeyHex string, prices *POLPrice) (*CTFClient, error) {
	pkBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("onchain.NewCTFClient: decode private key: %w", err)
	}
	key, err := crypto.ToECDSA(pkBytes)
	if err != nil {
		return nil, fmt.Errorf("onchain.NewCTFClient: invalid private key: %w", err)
	}
	if prices == nil {
		prices = NewPOLPrice("")
	}
	return &CTFClient{
		chain:       chain,
		key:         key,
		address:     crypto.PubkeyToAddress(key.PublicKey),
		prices:      prices,
		receiptPoll: defaultReceiptPoll,
	}, nil
}

// Address devuelve la wallet que firma las transacciones.
func (c *CTFClient) Address() common.Address {
	return c.address
}

// Split convierte amount USDC.e en amount YES + amount NO.
func (c *CTFClient) Split(ctx context.Context, conditionID string, amount float64, negRisk bool) (domain.CollateralResult, error) {
	return c.execute(ctx, domain.CollateralSplit, "splitPosition", conditionID, amount, negRisk)
}

// Merge convierte amount sets YES+NO en USDC.e.
func (c *CTFClient) Merge(ctx context.Context, conditionID string, amount float64, negRisk bool) (domain.CollateralResult, error) {
	return c.execute(ctx, domain.CollateralMerge, "mergePositions", conditionID, amount, negRisk)
}

// execute arma, firma y envía la transacción de split/merge y espera el receipt.
func (c *CTFClient) execute(ctx context.Context, op domain.CollateralOp, method, conditionID string, amount float64, negRisk bool) (domain.CollateralResult, error) {
	result := domain.CollateralResult{
		Op:          op,
		ConditionID: conditionID,
		Amount:      amount,
		ExecutedAt:  time.Now().UTC(),
	}
	fail := func(step string, err error) (domain.CollateralResult, error) {
		result.Error = fmt.Sprintf("%s: %v", step, err)
		return result, fmt.Errorf("onchain.%s %s: %s: %w", op, domain.ShortID(conditionID), step, err)
	}

	if amount <= 0 {
		return fail("amount", fmt.Errorf("must be positive, got %.6f", amount))
	}
	to, callData, err := collateralCall(method, conditionID, amount, negRisk)
	if err != nil {
		return fail("pack", err)
	}

	nonce, err := c.chain.PendingNonceAt(ctx, c.address)
	if err != nil {
		return fail("nonce", err)
	}
	gasPrice := c.gasPrice(ctx)

	gasLimit, err := c.chain.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.address,
		To:       &to,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		gasLimit = collateralGasLimit
		slog.Warn("onchain: gas estimate failed, using default", "op", op, "err", err, "limit", gasLimit)
	}
	gasLimit = gasLimit * 12 / 10

	signed, err := c.sign(types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, callData))
	if err != nil {
		return fail("sign", err)
	}
	if err := c.chain.SendTransaction(ctx, signed); err != nil {
		return fail("send", err)
	}
	result.TxHash = signed.Hash().Hex()
	slog.Info("onchain: transaction sent", "op", op, "condition", domain.ShortID(conditionID),
		"amount", amount, "tx", result.TxHash)

	receiptCtx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()
	receipt, err := c.waitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		return fail("receipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fail("receipt", fmt.Errorf("transaction reverted: %s", result.TxHash))
	}

	result.Success = true
	result.GasUsed = receipt.GasUsed
	result.GasCostUSD = c.gasCostUSD(ctx, receipt.GasUsed, gasPrice)

	slog.Info("onchain: confirmed", "op", op, "condition", domain.ShortID(conditionID),
		"tx", result.TxHash, "gas_usd", fmt.Sprintf("$%.4f", result.GasCostUSD))
	return result, nil
}

// collateralCall devuelve destino y calldata de un split/merge.
func collateralCall(method, conditionID string, amount float64, negRisk bool) (common.Address, []byte, error) {
	condBytes, err := hexToBytes32(conditionID)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("invalid conditionID: %w", err)
	}
	amountInt := toUnits(amount)

	if negRisk {
		data, err := adapterABI.Pack(method, condBytes, amountInt)
		return common.HexToAddress(negRiskAdapter), data, err
	}

	partition := []*big.Int{big.NewInt(1), big.NewInt(2)}
	data, err := ctfABI.Pack(method,
		common.HexToAddress(usdcEAddress),
		[32]byte{},
		condBytes,
		partition,
		amountInt,
	)
	return common.HexToAddress(ctfAddress), data, err
}

// EstimateGasCostUSD estima el coste en USD de un split o merge.
func (c *CTFClient) EstimateGasCostUSD(ctx context.Context) float64 {
	return c.gasCostUSD(ctx, collateralGasLimit, c.gasPrice(ctx))
}

func (c *CTFClient) gasCostUSD(ctx context.Context, gasUsed uint64, gasPrice *big.Int) float64 {
	wei := new(big.Float).Mul(new(big.Float).SetUint64(gasUsed), new(big.Float).SetInt(gasPrice))
	pol, _ := new(big.Float).Quo(wei, big.NewFloat(1e18)).Float64()
	return pol * c.prices.USD(ctx)
}

// ─── Balances ────────────────────────────────────────────────────────────────

// USDCBalance devuelve el balance de USDC.e de la wallet.
func (c *CTFClient) USDCBalance(ctx context.Context) (float64, error) {
	raw, err := c.callUint(ctx, erc20ABI, common.HexToAddress(usdcEAddress), "balanceOf", c.address)
	if err != nil {
		return 0, fmt.Errorf("onchain.USDCBalance: %w: %w", domain.ErrBalanceUnavailable, err)
	}
	return fromUnits(raw), nil
}

// TokenBalance devuelve el balance ERC-1155 de un outcome token, en shares.
func (c *CTFClient) TokenBalance(ctx context.Context, tokenID string) (float64, error) {
	id, err := parseTokenID(tokenID)
	if err != nil {
		return 0, fmt.Errorf("onchain.TokenBalance: %w", err)
	}
	raw, err := c.callUint(ctx, erc1155ABI, common.HexToAddress(ctfAddress), "balanceOf", c.address, id)
	if err != nil {
		return 0, fmt.Errorf("onchain.TokenBalance: %w: %w", domain.ErrBalanceUnavailable, err)
	}
	return fromUnits(raw), nil
}

func (c *CTFClient) callUint(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
	callData, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}
	out, err := c.chain.CallContract(ctx, ethereum.CallMsg{To: &to, Data: callData}, nil)
	if err != nil {
		return nil, fmt.Errorf("call: %w", err)
	}
	vals, err := contract.Unpack(method, out)
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("unpack: %v", err)
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack: unexpected %T", vals[0])
	}
	return v, nil
}

// ─── Approvals ───────────────────────────────────────────────────────────────

// EnsureApprovals verifica y setea:
//   - ERC1155 setApprovalForAll en los tres contratos (exchange, neg-risk exchange, adapter)
//   - ERC20 USDC.e approve para los dos exchanges y el adapter (colateral de BUY y split)
func (c *CTFClient) EnsureApprovals(ctx context.Context) error {
	ctf := common.HexToAddress(ctfAddress)
	for _, op := range []string{normalExchange, negRiskExchange, negRiskAdapter} {
		operator := common.HexToAddress(op)
		ok, err := c.isApprovedForAll(ctx, operator)
		if err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: check ERC1155 %s: %w", op, err)
		}
		if ok {
			continue
		}
		slog.Info("onchain: setting ERC1155 approval", "operator", op)
		data, err := erc1155ABI.Pack("setApprovalForAll", operator, true)
		if err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: pack: %w", err)
		}
		if err := c.sendAndConfirm(ctx, ctf, data); err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: ERC1155 %s: %w", op, err)
		}
	}

	usdc := common.HexToAddress(usdcEAddress)
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	minAllowance := toUnits(1_000_000)

	for _, sp := range []string{normalExchange, negRiskExchange, negRiskAdapter, ctfAddress} {
		spender := common.HexToAddress(sp)
		allowance, err := c.callUint(ctx, erc20ABI, usdc, "allowance", c.address, spender)
		if err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: allowance %s: %w", sp, err)
		}
		if allowance.Cmp(minAllowance) >= 0 {
			continue
		}
		slog.Info("onchain: setting USDC.e approval", "spender", sp)
		data, err := erc20ABI.Pack("approve", spender, maxUint256)
		if err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: pack: %w", err)
		}
		if err := c.sendAndConfirm(ctx, usdc, data); err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: USDC.e %s: %w", sp, err)
		}
	}
	return nil
}

func (c *CTFClient) isApprovedForAll(ctx context.Context, operator common.Address) (bool, error) {
	callData, err := erc1155ABI.Pack("isApprovedForAll", c.address, operator)
	if err != nil {
		return false, err
	}
	ctf := common.HexToAddress(ctfAddress)
	out, err := c.chain.CallContract(ctx, ethereum.CallMsg{To: &ctf, Data: callData}, nil)
	if err != nil {
		return false, err
	}
	vals, err := erc1155ABI.Unpack("isApprovedForAll", out)
	if err != nil || len(vals) == 0 {
		return false, err
	}
	approved, _ := vals[0].(bool)
	return approved, nil
}

// sendAndConfirm envía una transacción con gas fijo de aprobación y espera el receipt.
func (c *CTFClient) sendAndConfirm(ctx context.Context, to common.Address, data []byte) error {
	nonce, err := c.chain.PendingNonceAt(ctx, c.address)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	signed, err := c.sign(types.NewTransaction(nonce, to, big.NewInt(0), approvalGasLimit, c.gasPrice(ctx), data))
	if err != nil {
		return err
	}
	if err := c.chain.SendTransaction(ctx, signed); err != nil {
		return err
	}

	receiptCtx, cancel := context.WithTimeout(ctx, receiptTimeout/2)
	defer cancel()
	receipt, err := c.waitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		return fmt.Errorf("wait receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("tx reverted: %s", signed.Hash().Hex())
	}
	return nil
}

// ─── Tx helpers ──────────────────────────────────────────────────────────────

func (c *CTFClient) sign(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.NewEIP155Signer(big.NewInt(polygonChainID)), c.key)
}

// gasPrice devuelve el gas price cacheado (+10%), con fallback a 30 gwei.
func (c *CTFClient) gasPrice(ctx context.Context) *big.Int {
	c.mu.RLock()
	cached, updatedAt := c.cachedGasWei, c.gasUpdatedAt
	c.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached
	}

	price, err := c.chain.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached
		}
		return big.NewInt(30_000_000_000)
	}

	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	c.mu.Lock()
	c.cachedGasWei = buffered
	c.gasUpdatedAt = time.Now()
	c.mu.Unlock()
	return buffered
}

// waitForReceipt hace polling del receipt hasta confirmación o timeout.
func (c *CTFClient) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.chain.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // todavía no minada
			}
			return receipt, nil
		}
	}
}

// ─── Conversions ─────────────────────────────────────────────────────────────

// toUnits convierte USDC/shares a unidades de 1e6, truncando.
func toUnits(v float64) *big.Int {
	return decimal.NewFromFloat(v).Shift(6).Truncate(0).BigInt()
}

func fromUnits(raw *big.Int) float64 {
	return decimal.NewFromBigInt(raw, -6).InexactFloat64()
}

// parseTokenID acepta el token id decimal del CLOB o hex con 0x.
func parseTokenID(tokenID string) (*big.Int, error) {
	id := new(big.Int)
	if _, ok := id.SetString(tokenID, 10); ok {
		return id, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(tokenID, "0x"))
	if err != nil || len(b) == 0 {
		return nil, fmt.Errorf("invalid token ID: %s", tokenID)
	}
	return id.SetBytes(b), nil
}

// hexToBytes32 converts a 0x-prefixed hex string to [32]byte.
func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}
