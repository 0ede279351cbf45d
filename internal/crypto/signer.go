// Package crypto signs funding outcomes as EIP-712 typed data.
package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

const (
	domainName    = "PythFundingOracle"
	domainVersion = "1"

	domainType        = "EIP712Domain(string name,string version,uint256 chainId)"
	fundingUpdateType = "FundingUpdate(uint64 seq,bytes32 feedId,string symbol,int256 rate,uint256 cumulativeFunding,uint256 price,uint256 timestamp)"

	sigLen = 65
)

var (
	domainTypeHash        = ethcrypto.Keccak256([]byte(domainType))
	fundingUpdateTypeHash = ethcrypto.Keccak256([]byte(fundingUpdateType))
)

// Signer signs funding outcomes so a contract or an off-chain consumer can
// verify them against the signer's address.
type Signer struct {
	key       *ecdsa.PrivateKey
	address   common.Address
	separator []byte
}

// NewSigner creates a Signer from a hex secp256k1 key (with or without 0x)
// bound to chainID.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		separator: ethcrypto.Keccak256(
			domainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			intWord(chainID),
		),
	}, nil
}

// Address returns the address consumers verify signatures against.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignOutcome returns the 65-byte r||s||v signature over o, hex encoded, with
// v in {27, 28}. The Signature field of o is not covered.
func (s *Signer) SignOutcome(o domain.FundingOutcome) (string, error) {
	sig, err := ethcrypto.Sign(s.OutcomeDigest(o), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign outcome %d: %w", o.Seq, err)
	}
	sig[sigLen-1] += 27
	return hexutil.Encode(sig), nil
}

// OutcomeDigest returns keccak256("\x19\x01" || domainSeparator || hashStruct(o)).
func (s *Signer) OutcomeDigest(o domain.FundingOutcome) []byte {
	structHash := ethcrypto.Keccak256(
		fundingUpdateTypeHash,
		uintWord(uint256.NewInt(o.Seq)),
		o.FeedID.Bytes(),
		ethcrypto.Keccak256([]byte(o.Symbol)),
		intWord(o.Rate),
		uintWord(o.CumulativeFunding),
		uintWord(o.Price),
		intWord(o.Timestamp.Unix()),
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, s.separator, structHash)
}

// Recover returns the address that produced sig over o. v may be 0/1 or 27/28.
func (s *Signer) Recover(o domain.FundingOutcome, sig string) (common.Address, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(raw) != sigLen {
		return common.Address{}, fmt.Errorf("crypto/signer: signature is %d bytes, want %d", len(raw), sigLen)
	}
	if raw[sigLen-1] >= 27 {
		raw[sigLen-1] -= 27
	}
	pub, err := ethcrypto.SigToPub(s.OutcomeDigest(o), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// intWord is the 32-byte two's complement ABI word of n.
func intWord(n int64) []byte {
	v := uint256.NewInt(uint64(n))
	if n < 0 {
		v[1], v[2], v[3] = ^uint64(0), ^uint64(0), ^uint64(0)
	}
	return uintWord(v)
}

// uintWord is the 32-byte big-endian ABI word of v; nil encodes as zero.
func uintWord(v *uint256.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	b := v.Bytes32()
	return b[:]
}
