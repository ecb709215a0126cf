package vault

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"dualstake/core/types"
	nativecommon "dualstake/native/common"
	"dualstake/native/token"
)

type mockState struct {
	kv     map[string][]byte
	roles  map[string]bool
	events []*types.Event
}

func newMockState() *mockState {
	return &mockState{kv: make(map[string][]byte), roles: make(map[string]bool)}
}

func (m *mockState) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockState) KVPut(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = raw
	return nil
}

func (m *mockState) KVAppend(key []byte, value []byte) error {
	list, err := m.KVList(key)
	if err != nil {
		return err
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

func (m *mockState) KVList(key []byte) ([][]byte, error) {
	var list [][]byte
	if _, err := m.KVGet(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *mockState) HasRole(role string, addr common.Address) bool {
	return m.roles[role+addr.Hex()]
}

func (m *mockState) grant(role string, addr common.Address) {
	m.roles[role+addr.Hex()] = true
}

func (m *mockState) AppendEvent(evt *types.Event) {
	m.events = append(m.events, evt)
}

func (m *mockState) lastEventType() string {
	if len(m.events) == 0 {
		return ""
	}
	return m.events[len(m.events)-1].Type
}

var (
	tokUSDT   = common.HexToAddress("0x2000000000000000000000000000000000000001")
	tokWNAT   = common.HexToAddress("0x2000000000000000000000000000000000000002")
	vaultAddr = common.HexToAddress("0x4000000000000000000000000000000000000001")
	bucket    = common.HexToAddress("0x4000000000000000000000000000000000000002")
	admin     = common.HexToAddress("0x5000000000000000000000000000000000000001")
	custodian = common.HexToAddress("0x5000000000000000000000000000000000000002")
	holder    = common.HexToAddress("0x5000000000000000000000000000000000000003")
)

type fixture struct {
	state  *mockState
	ledger *token.Ledger
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockState()
	state.grant(nativecommon.RoleAdmin, admin)
	state.grant(nativecommon.RoleCustodian, custodian)

	registry := token.NewRegistry()
	if err := registry.Register(tokUSDT, token.Metadata{Symbol: "USDT", Decimals: 6, Stable: true}); err != nil {
		t.Fatalf("register usdt: %v", err)
	}
	if err := registry.Register(tokWNAT, token.Metadata{Symbol: "WNAT", Decimals: 18, WrappedNative: true}); err != nil {
		t.Fatalf("register wnat: %v", err)
	}
	ledger := token.NewLedger(registry)
	ledger.SetState(state)

	engine := NewEngine(vaultAddr, ledger)
	engine.SetState(state)
	engine.SetBucket(bucket)
	return &fixture{state: state, ledger: ledger, engine: engine}
}

func (f *fixture) fundAndApprove(t *testing.T, tok common.Address, amount int64) {
	t.Helper()
	if err := f.ledger.Mint(tok, holder, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.ledger.Approve(tok, holder, vaultAddr, big.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, tok, addr common.Address) *big.Int {
	t.Helper()
	bal, err := f.ledger.BalanceOf(tok, addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) nativeBalance(t *testing.T, addr common.Address) *big.Int {
	t.Helper()
	bal, err := f.ledger.NativeBalanceOf(addr)
	if err != nil {
		t.Fatalf("native balance: %v", err)
	}
	return bal
}

func TestDepositWithinThresholdRetains(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.UpdateThreshold(admin, tokUSDT, big.NewInt(100)); err != nil {
		t.Fatalf("update threshold: %v", err)
	}
	f.fundAndApprove(t, tokUSDT, 100)

	if err := f.engine.DepositTokens(custodian, tokUSDT, holder, big.NewInt(30)); err != nil {
		t.Fatalf("deposit 30: %v", err)
	}
	if err := f.engine.DepositTokens(custodian, tokUSDT, holder, big.NewInt(70)); err != nil {
		t.Fatalf("deposit 70: %v", err)
	}
	if got := f.balance(t, tokUSDT, vaultAddr); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("vault = %s, want 100", got)
	}
	if got := f.balance(t, tokUSDT, bucket); got.Sign() != 0 {
		t.Fatalf("bucket = %s, want 0", got)
	}
	if f.state.lastEventType() != EventTypeDeposited {
		t.Fatalf("last event = %s, want %s", f.state.lastEventType(), EventTypeDeposited)
	}
}

func TestDepositAboveThresholdSweepsWhole(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.UpdateThreshold(admin, tokUSDT, big.NewInt(100)); err != nil {
		t.Fatalf("update threshold: %v", err)
	}
	f.fundAndApprove(t, tokUSDT, 130)

	if err := f.engine.DepositTokens(custodian, tokUSDT, holder, big.NewInt(130)); err != nil {
		t.Fatalf("deposit 130: %v", err)
	}
	// The whole transfer bypasses custody, not just the excess.
	if got := f.balance(t, tokUSDT, vaultAddr); got.Sign() != 0 {
		t.Fatalf("vault = %s, want 0", got)
	}
	if got := f.balance(t, tokUSDT, bucket); got.Cmp(big.NewInt(130)) != 0 {
		t.Fatalf("bucket = %s, want 130", got)
	}
	if f.state.lastEventType() != EventTypeSwept {
		t.Fatalf("last event = %s, want %s", f.state.lastEventType(), EventTypeSwept)
	}
}

func TestDepositExactlyAtThresholdRetains(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.UpdateThreshold(admin, tokUSDT, big.NewInt(100)); err != nil {
		t.Fatalf("update threshold: %v", err)
	}
	f.fundAndApprove(t, tokUSDT, 100)
	if err := f.engine.DepositTokens(custodian, tokUSDT, holder, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := f.balance(t, tokUSDT, vaultAddr); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("vault = %s, want 100", got)
	}
}

func TestUnregisteredThresholdSweepsEverything(t *testing.T) {
	f := newFixture(t)
	f.fundAndApprove(t, tokUSDT, 1)
	if err := f.engine.DepositTokens(custodian, tokUSDT, holder, big.NewInt(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := f.balance(t, tokUSDT, bucket); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("bucket = %s, want 1", got)
	}
}

func TestWrappedDepositUnwrapsImmediately(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.UpdateThreshold(admin, tokWNAT, big.NewInt(100)); err != nil {
		t.Fatalf("update threshold: %v", err)
	}
	if err := f.ledger.NativeMint(holder, big.NewInt(50)); err != nil {
		t.Fatalf("native mint: %v", err)
	}
	if err := f.ledger.Wrap(holder, big.NewInt(50)); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := f.ledger.Approve(tokWNAT, holder, vaultAddr, big.NewInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := f.engine.DepositTokens(custodian, tokWNAT, holder, big.NewInt(50)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// Custody holds raw native only, never the wrapped token.
	if got := f.balance(t, tokWNAT, vaultAddr); got.Sign() != 0 {
		t.Fatalf("wrapped vault balance = %s, want 0", got)
	}
	if got := f.nativeBalance(t, vaultAddr); got.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("native vault balance = %s, want 50", got)
	}
}

func TestWrappedDepositAboveThresholdSweepsNative(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.UpdateThreshold(admin, tokWNAT, big.NewInt(100)); err != nil {
		t.Fatalf("update threshold: %v", err)
	}
	if err := f.ledger.NativeMint(holder, big.NewInt(300)); err != nil {
		t.Fatalf("native mint: %v", err)
	}
	if err := f.ledger.Wrap(holder, big.NewInt(300)); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if err := f.ledger.Approve(tokWNAT, holder, vaultAddr, big.NewInt(300)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.engine.DepositTokens(custodian, tokWNAT, holder, big.NewInt(300)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := f.nativeBalance(t, bucket); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("bucket native = %s, want 300", got)
	}
	if got := f.nativeBalance(t, vaultAddr); got.Sign() != 0 {
		t.Fatalf("vault native = %s, want 0", got)
	}
}

func TestNativeDepositSweep(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.UpdateThreshold(admin, tokWNAT, big.NewInt(100)); err != nil {
		t.Fatalf("update threshold: %v", err)
	}
	if err := f.ledger.NativeMint(holder, big.NewInt(250)); err != nil {
		t.Fatalf("native mint: %v", err)
	}
	if err := f.engine.Deposit(custodian, holder, big.NewInt(80)); err != nil {
		t.Fatalf("deposit 80: %v", err)
	}
	if err := f.engine.Deposit(custodian, holder, big.NewInt(170)); err != nil {
		t.Fatalf("deposit 170: %v", err)
	}
	if got := f.nativeBalance(t, vaultAddr); got.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("vault native = %s, want 80", got)
	}
	if got := f.nativeBalance(t, bucket); got.Cmp(big.NewInt(170)) != 0 {
		t.Fatalf("bucket native = %s, want 170", got)
	}
}

func TestWithdrawTokensWrapsFirst(t *testing.T) {
	f := newFixture(t)
	if err := f.ledger.NativeMint(vaultAddr, big.NewInt(75)); err != nil {
		t.Fatalf("native mint: %v", err)
	}
	if err := f.engine.WithdrawTokens(custodian, tokWNAT, holder, big.NewInt(75)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.balance(t, tokWNAT, holder); got.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("holder wrapped = %s, want 75", got)
	}
	if got := f.nativeBalance(t, vaultAddr); got.Sign() != 0 {
		t.Fatalf("vault native = %s, want 0", got)
	}
}

func TestWithdrawNativeSendFailure(t *testing.T) {
	f := newFixture(t)
	if err := f.ledger.NativeMint(vaultAddr, big.NewInt(75)); err != nil {
		t.Fatalf("native mint: %v", err)
	}
	f.ledger.SetNativeRejector(holder, true)
	if err := f.engine.Withdraw(custodian, holder, big.NewInt(75)); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("err = %v, want ErrSendFailed", err)
	}
	if got := f.nativeBalance(t, vaultAddr); got.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("vault native = %s, want 75", got)
	}
}

func TestUpdateThresholdAuthorization(t *testing.T) {
	f := newFixture(t)
	// Custody capability alone is not enough to reconfigure thresholds.
	if err := f.engine.UpdateThreshold(custodian, tokUSDT, big.NewInt(5)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("custodian err = %v, want ErrUnauthorized", err)
	}
	if err := f.engine.UpdateThreshold(holder, tokUSDT, big.NewInt(5)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("holder err = %v, want ErrUnauthorized", err)
	}
}

func TestThresholdReRegistrationKeepsIndexUnique(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.UpdateThreshold(admin, tokUSDT, big.NewInt(5)); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := f.engine.UpdateThreshold(admin, tokUSDT, big.NewInt(0)); err != nil {
		t.Fatalf("reset to zero: %v", err)
	}
	if err := f.engine.UpdateThreshold(admin, tokUSDT, big.NewInt(9)); err != nil {
		t.Fatalf("second update: %v", err)
	}
	toks, err := f.engine.ThresholdTokens()
	if err != nil {
		t.Fatalf("threshold tokens: %v", err)
	}
	if len(toks) != 1 || toks[0] != tokUSDT {
		t.Fatalf("index = %v, want exactly [%s]", toks, tokUSDT.Hex())
	}
	threshold, err := f.engine.Threshold(tokUSDT)
	if err != nil {
		t.Fatalf("threshold: %v", err)
	}
	if threshold.Cmp(big.NewInt(9)) != 0 {
		t.Fatalf("threshold = %s, want 9", threshold)
	}
}

func TestDepositRequiresCapability(t *testing.T) {
	f := newFixture(t)
	f.fundAndApprove(t, tokUSDT, 10)
	if err := f.engine.DepositTokens(holder, tokUSDT, holder, big.NewInt(10)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestSweepWithoutBucketFails(t *testing.T) {
	f := newFixture(t)
	f.engine.SetBucket(common.Address{})
	f.fundAndApprove(t, tokUSDT, 10)
	if err := f.engine.DepositTokens(custodian, tokUSDT, holder, big.NewInt(10)); !errors.Is(err, ErrNoBucket) {
		t.Fatalf("err = %v, want ErrNoBucket", err)
	}
}

func TestPausedVaultRejectsDeposits(t *testing.T) {
	f := newFixture(t)
	pauses := pauseMap{moduleName: true}
	f.engine.SetPauses(pauses)
	f.fundAndApprove(t, tokUSDT, 10)
	if err := f.engine.DepositTokens(custodian, tokUSDT, holder, big.NewInt(10)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("err = %v, want ErrModulePaused", err)
	}
}

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }
