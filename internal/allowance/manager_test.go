package allowance

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/registry"
)

type fakeReader struct {
	allowance *big.Int
	calls     int
}

func (f *fakeReader) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	f.calls++
	return new(big.Int).Set(f.allowance), nil
}
func (f *fakeReader) BalanceOf(ctx context.Context, token, owner string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeReader) NativeBalance(ctx context.Context, owner string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeReader) BaseFee(ctx context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeReader) SuggestPriorityFee(ctx context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}

const owner = "0x00000000000000000000000000000000000000AA"

func usdcAvalanche(t *testing.T) registry.Token {
	t.Helper()
	token, err := registry.TokenBySymbol(43114, "USDC")
	if err != nil {
		t.Fatalf("token lookup: %v", err)
	}
	return token
}

func TestBuildApprovalExactMarginCalldata(t *testing.T) {
	reader := &fakeReader{allowance: big.NewInt(0)}
	m, err := NewManager(reader, PolicyExactMargin, 20, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	// 100 USDC with 6 decimals.
	status, tx, err := m.BuildApproval(context.Background(), Request{
		ChainID:      43114,
		Token:        usdcAvalanche(t),
		Owner:        owner,
		RequiredBase: "100000000",
	})
	if err != nil {
		t.Fatalf("BuildApproval failed: %v", err)
	}
	if status.IsApproved {
		t.Fatal("expected not approved")
	}
	if tx == nil {
		t.Fatal("expected approval transaction")
	}

	data := strings.TrimPrefix(tx.Data, "0x")
	if !strings.HasPrefix(data, "095ea7b3") {
		t.Fatalf("calldata must start with the approve selector, got %s", data[:8])
	}
	if len(data) != 8+64+64 {
		t.Fatalf("calldata must be selector plus two 32-byte words, got %d hex chars", len(data))
	}
	spenderWord := data[8 : 8+64]
	router, _ := registry.AggregatorRouter(43114)
	if !strings.EqualFold(spenderWord[24:], strings.TrimPrefix(router, "0x")) {
		t.Fatalf("unexpected spender word: %s", spenderWord)
	}
	amountWord := new(big.Int)
	amountWord.SetString(data[8+64:], 16)
	// 100_000_000 * 1.20
	if amountWord.Cmp(big.NewInt(120_000_000)) != 0 {
		t.Fatalf("expected margin amount 120000000, got %s", amountWord)
	}
	if tx.To != usdcAvalanche(t).Address {
		t.Fatalf("approval must target the token contract, got %s", tx.To)
	}
	if tx.Value != "0" {
		t.Fatalf("approval must carry no value, got %s", tx.Value)
	}
}

func TestBuildApprovalUnlimitedCalldata(t *testing.T) {
	reader := &fakeReader{allowance: big.NewInt(0)}
	m, _ := NewManager(reader, PolicyUnlimited, 0, zap.NewNop())

	_, tx, err := m.BuildApproval(context.Background(), Request{
		ChainID:      43114,
		Token:        usdcAvalanche(t),
		Owner:        owner,
		RequiredBase: "100000000",
	})
	if err != nil {
		t.Fatalf("BuildApproval failed: %v", err)
	}
	data := strings.TrimPrefix(tx.Data, "0x")
	if data[8+64:] != strings.Repeat("f", 64) {
		t.Fatalf("expected max uint256 amount word, got %s", data[8+64:])
	}
}

func TestApprovalIdempotentWhenAlreadyApproved(t *testing.T) {
	reader := &fakeReader{allowance: big.NewInt(500_000_000)}
	m, _ := NewManager(reader, PolicyExactMargin, 20, zap.NewNop())

	req := Request{ChainID: 43114, Token: usdcAvalanche(t), Owner: owner, RequiredBase: "100000000"}
	for i := 0; i < 2; i++ {
		status, tx, err := m.BuildApproval(context.Background(), req)
		if err != nil {
			t.Fatalf("BuildApproval failed: %v", err)
		}
		if !status.IsApproved {
			t.Fatalf("call %d: expected approved", i+1)
		}
		if tx != nil {
			t.Fatalf("call %d: no redundant approval transaction expected", i+1)
		}
	}
	if reader.calls != 2 {
		t.Fatalf("allowance must be re-read every request, got %d reads", reader.calls)
	}
}

func TestNativeAssetSkipsAllowance(t *testing.T) {
	reader := &fakeReader{allowance: big.NewInt(0)}
	m, _ := NewManager(reader, PolicyExactMargin, 20, zap.NewNop())

	native, err := registry.TokenBySymbol(43114, "AVAX")
	if err != nil {
		t.Fatalf("token lookup: %v", err)
	}
	status, tx, err := m.BuildApproval(context.Background(), Request{
		ChainID:      43114,
		Token:        native,
		Owner:        owner,
		RequiredBase: "1000000000000000000",
	})
	if err != nil {
		t.Fatalf("BuildApproval failed: %v", err)
	}
	if !status.IsApproved || tx != nil {
		t.Fatal("native asset must skip the allowance flow entirely")
	}
	if reader.calls != 0 {
		t.Fatal("native asset must not trigger a chain read")
	}
}

func TestResolveSpenderRefinement(t *testing.T) {
	reader := &fakeReader{allowance: big.NewInt(0)}
	m, _ := NewManager(reader, PolicyExactMargin, 20, zap.NewNop())

	refined := "0x1111111254EEB25477B68fb85Ed929f73A960582"
	status, _, err := m.BuildApproval(context.Background(), Request{
		ChainID:      43114,
		Token:        usdcAvalanche(t),
		Owner:        owner,
		RequiredBase: "100000000",
		QuoteRouter:  refined,
	})
	if err != nil {
		t.Fatalf("BuildApproval failed: %v", err)
	}
	if !strings.EqualFold(status.SpenderAddress, refined) {
		t.Fatalf("expected refined spender, got %s", status.SpenderAddress)
	}

	status, _, err = m.BuildApproval(context.Background(), Request{
		ChainID:      43114,
		Token:        usdcAvalanche(t),
		Owner:        owner,
		RequiredBase: "100000000",
		QuoteRouter:  "not-an-address",
	})
	if err != nil {
		t.Fatalf("BuildApproval failed: %v", err)
	}
	static, _ := registry.AggregatorRouter(43114)
	if !strings.EqualFold(status.SpenderAddress, static) {
		t.Fatalf("invalid quote router must fall back to static spender, got %s", status.SpenderAddress)
	}
}
