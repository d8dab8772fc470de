package exchange

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vmihailenco/msgpack/v5"
)

// Signature is the r/s/v triple the exchange endpoint expects.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// Signer produces the EIP-712 signatures Hyperliquid requires on
// exchange actions. The venue verifies a phantom "Agent" struct whose
// connectionId commits to the msgpack encoding of the action, the nonce
// and the vault flag. Wire field order in the action structs is part of
// the commitment, so the msgpack tags below must stay in declaration
// order.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	mainnet bool
}

func NewSigner(privateKeyHex string, mainnet bool) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		mainnet: mainnet,
	}, nil
}

// Address returns the wallet address derived from the signing key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAction signs an exchange action for submission with the given
// millisecond nonce.
func (s *Signer) SignAction(action any, nonce int64) (*Signature, error) {
	connectionID, err := actionHash(action, nonce)
	if err != nil {
		return nil, err
	}
	digest, err := s.signingHash(connectionID)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign action: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	return &Signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: int(sig[64]),
	}, nil
}

// actionHash commits to the msgpack encoded action, the nonce as eight
// big endian bytes, and a zero byte marking the no-vault case.
func actionHash(action any, nonce int64) (common.Hash, error) {
	packed, err := msgpack.Marshal(action)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode action: %w", err)
	}

	data := make([]byte, 0, len(packed)+9)
	data = append(data, packed...)
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))
	data = append(data, nonceBytes[:]...)
	data = append(data, 0x00)

	return crypto.Keccak256Hash(data), nil
}

// signingHash builds the EIP-712 digest over the phantom agent. The
// domain is fixed by the venue: chain id 1337 and a zero verifying
// contract, with source "a" on mainnet and "b" on testnet.
func (s *Signer) signingHash(connectionID common.Hash) (common.Hash, error) {
	source := "b"
	if s.mainnet {
		source = "a"
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": []apitypes.Type{
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(1337),
			VerifyingContract: "0x0000000000000000000000000000000000000000",
		},
		Message: apitypes.TypedDataMessage{
			"source":       source,
			"connectionId": hexutil.Encode(connectionID[:]),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	return crypto.Keccak256Hash(rawData), nil
}
