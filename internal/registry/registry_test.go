package registry

import "testing"

func TestChainByID(t *testing.T) {
	chain, err := ChainByID(43114)
	if err != nil {
		t.Fatalf("ChainByID failed: %v", err)
	}
	if chain.NativeSymbol != "AVAX" || chain.NativeDecimals != 18 {
		t.Fatalf("unexpected chain: %+v", chain)
	}
	if _, err := ChainByID(999999); err == nil {
		t.Fatal("expected unsupported chain error")
	}
}

func TestTokenBySymbol(t *testing.T) {
	token, err := TokenBySymbol(43114, "usdc")
	if err != nil {
		t.Fatalf("TokenBySymbol failed: %v", err)
	}
	if token.Decimals != 6 || token.IsNative {
		t.Fatalf("unexpected token: %+v", token)
	}

	native, err := TokenBySymbol(43114, "AVAX")
	if err != nil {
		t.Fatalf("TokenBySymbol failed: %v", err)
	}
	if !native.IsNative || !IsNativeAddress(native.Address) {
		t.Fatalf("expected native sentinel, got %+v", native)
	}
	if native.Address == ZeroAddress {
		t.Fatal("native sentinel must differ from the zero address")
	}
}

func TestComplexAndStableLists(t *testing.T) {
	if !IsComplexToken(43114, "sierra") {
		t.Fatal("SIERRA should be on the complex list")
	}
	if IsComplexToken(43114, "USDC") {
		t.Fatal("USDC should not be on the complex list")
	}
	if !IsStableReference("usdt") || !IsStableReference("DAI.e") {
		t.Fatal("expected stable reference match")
	}
	if IsStableReference("WAVAX") {
		t.Fatal("WAVAX is not a stable reference")
	}
}

func TestResolveRPCURL(t *testing.T) {
	url, err := ResolveRPCURL("", 43114)
	if err != nil || url == "" {
		t.Fatalf("expected default rpc, got %q err=%v", url, err)
	}
	override, err := ResolveRPCURL("http://localhost:8545", 43114)
	if err != nil || override != "http://localhost:8545" {
		t.Fatalf("expected override, got %q err=%v", override, err)
	}
}
