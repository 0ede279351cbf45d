package crypto

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testOutcome() domain.FundingOutcome {
	return domain.FundingOutcome{
		Seq:               7,
		ID:                "b5c1f1de-0000-4000-8000-000000000001",
		Symbol:            "BTC",
		FeedID:            common.HexToHash("0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"),
		Rate:              -300,
		CumulativeFunding: uint256.NewInt(1_000_199_850_000_000_000),
		Price:             uint256.MustFromDecimal("43000000000000000000000"),
		Timestamp:         time.Unix(1_700_000_060, 0),
	}
}

func TestSignOutcomeRecovers(t *testing.T) {
	s, err := NewSigner(testKey, 999)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	o := testOutcome()
	sig, err := s.SignOutcome(o)
	if err != nil {
		t.Fatalf("SignOutcome: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 2+65*2 {
		t.Fatalf("signature %q is not 65 hex bytes", sig)
	}
	if v := sig[len(sig)-2:]; v != "1b" && v != "1c" {
		t.Fatalf("recovery byte = %s, want 1b or 1c", v)
	}

	addr, err := s.Recover(o, sig)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if addr != s.Address() {
		t.Fatalf("recovered %s, want %s", addr.Hex(), s.Address().Hex())
	}

	// The signature field itself is not covered.
	o.Signature = sig
	if addr, err := s.Recover(o, sig); err != nil || addr != s.Address() {
		t.Fatalf("recover with signature set: %s, %v", addr.Hex(), err)
	}
}

func TestSignatureCoversFields(t *testing.T) {
	s, err := NewSigner(strings.TrimPrefix(testKey, "0x"), 999)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	base := testOutcome()
	sig, err := s.SignOutcome(base)
	if err != nil {
		t.Fatalf("SignOutcome: %v", err)
	}

	mutations := map[string]func(*domain.FundingOutcome){
		"seq":    func(o *domain.FundingOutcome) { o.Seq++ },
		"symbol": func(o *domain.FundingOutcome) { o.Symbol = "ETH" },
		"rate":   func(o *domain.FundingOutcome) { o.Rate = 300 },
		"index":  func(o *domain.FundingOutcome) { o.CumulativeFunding = uint256.NewInt(1) },
		"price":  func(o *domain.FundingOutcome) { o.Price = uint256.NewInt(1) },
		"time":   func(o *domain.FundingOutcome) { o.Timestamp = o.Timestamp.Add(time.Second) },
		"feed":   func(o *domain.FundingOutcome) { o.FeedID = common.Hash{} },
	}
	for name, mutate := range mutations {
		o := testOutcome()
		mutate(&o)
		addr, err := s.Recover(o, sig)
		if err == nil && addr == s.Address() {
			t.Errorf("%s: signature still verifies after mutation", name)
		}
	}
}

func TestDomainSeparatesChains(t *testing.T) {
	a, _ := NewSigner(testKey, 1)
	b, _ := NewSigner(testKey, 999)
	o := testOutcome()
	if bytes.Equal(a.OutcomeDigest(o), b.OutcomeDigest(o)) {
		t.Fatal("digests equal across chain ids")
	}
}

func TestIntWord(t *testing.T) {
	neg := intWord(-1)
	for i, b := range neg {
		if b != 0xff {
			t.Fatalf("byte %d of -1 = %x, want ff", i, b)
		}
	}
	pos := intWord(300)
	if pos[30] != 0x01 || pos[31] != 0x2c {
		t.Fatalf("300 encoded as %x", pos)
	}
	minus := intWord(-300)
	if minus[0] != 0xff || minus[30] != 0xfe || minus[31] != 0xd4 {
		t.Fatalf("-300 encoded as %x", minus)
	}
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	if _, err := NewSigner("0x1234", 1); err == nil {
		t.Fatal("expected error for short key")
	}
	s, _ := NewSigner(testKey, 1)
	if _, err := s.Recover(testOutcome(), "0x1234"); err == nil {
		t.Fatal("expected error for short signature")
	}
}
