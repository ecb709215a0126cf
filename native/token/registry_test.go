package token

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	addr := common.HexToAddress("0x01")
	if err := r.Register(addr, Metadata{Symbol: "BTC", Decimals: 8}); err != nil {
		t.Fatalf("register: %v", err)
	}
	dec, err := r.Decimals(addr)
	if err != nil {
		t.Fatalf("decimals: %v", err)
	}
	if dec != 8 {
		t.Fatalf("decimals = %d, want 8", dec)
	}
	if _, err := r.Decimals(common.HexToAddress("0x02")); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("unknown err = %v, want ErrUnknownToken", err)
	}
}

func TestRegistryRejectsReRegistration(t *testing.T) {
	r := NewRegistry()
	addr := common.HexToAddress("0x01")
	if err := r.Register(addr, Metadata{Symbol: "BTC", Decimals: 8}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(addr, Metadata{Symbol: "BTC", Decimals: 18}); !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("err = %v, want ErrDuplicateToken", err)
	}
}

func TestRegistrySingletonFlags(t *testing.T) {
	r := NewRegistry()
	wnative := common.HexToAddress("0x01")
	stable := common.HexToAddress("0x02")
	if err := r.Register(wnative, Metadata{Symbol: "WNAT", Decimals: 18, WrappedNative: true}); err != nil {
		t.Fatalf("register wrapped: %v", err)
	}
	if err := r.Register(stable, Metadata{Symbol: "USDT", Decimals: 6, Stable: true}); err != nil {
		t.Fatalf("register stable: %v", err)
	}
	if got := r.WrappedNative(); got != wnative {
		t.Fatalf("wrapped = %s, want %s", got.Hex(), wnative.Hex())
	}
	if got := r.Stable(); got != stable {
		t.Fatalf("stable = %s, want %s", got.Hex(), stable.Hex())
	}
	if err := r.Register(common.HexToAddress("0x03"), Metadata{Symbol: "W2", Decimals: 18, WrappedNative: true}); err == nil {
		t.Fatal("expected second wrapped native to fail")
	}
	if err := r.Register(common.HexToAddress("0x04"), Metadata{Symbol: "S2", Decimals: 6, Stable: true}); err == nil {
		t.Fatal("expected second stable to fail")
	}
}

func TestRegistryRejectsHighDecimals(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(common.HexToAddress("0x01"), Metadata{Symbol: "X", Decimals: 19}); err == nil {
		t.Fatal("expected decimals above 18 to fail")
	}
}
