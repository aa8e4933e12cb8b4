package chain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// ErrInvalidAddress is returned when an address fails to decode.
var ErrInvalidAddress = errors.New("invalid address")

var networkPrefixes = map[Network]string{
	Mainnet: "xel",
	Testnet: "xet",
	Devnet:  "xed",
}

// Address is a wallet public key with optional integrated payload.
type Address struct {
	Network   Network
	PublicKey [32]byte
	Payload   []byte
}

// Integrated reports whether the address carries a payload.
func (a Address) Integrated() bool {
	return len(a.Payload) > 0
}

// WithoutPayload strips the integrated payload.
func (a Address) WithoutPayload() Address {
	return Address{Network: a.Network, PublicKey: a.PublicKey}
}

// Equal compares network, key and payload.
func (a Address) Equal(b Address) bool {
	return a.Network == b.Network && a.PublicKey == b.PublicKey && bytes.Equal(a.Payload, b.Payload)
}

// String encodes the address as bech32 with the network prefix.
func (a Address) String() string {
	s, err := a.encode()
	if err != nil {
		return ""
	}
	return s
}

func (a Address) encode() (string, error) {
	hrp, ok := networkPrefixes[a.Network]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, a.Network)
	}
	raw := make([]byte, 0, len(a.PublicKey)+len(a.Payload))
	raw = append(raw, a.PublicKey[:]...)
	raw = append(raw, a.Payload...)
	conv, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, conv)
}

// ParseAddress decodes a bech32 address and reports the network it belongs to.
func ParseAddress(s string) (Address, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	var network Network
	for n, prefix := range networkPrefixes {
		if prefix == hrp {
			network = n
		}
	}
	if network == "" {
		return Address{}, fmt.Errorf("%w: unknown prefix %q", ErrInvalidAddress, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) < 32 {
		return Address{}, fmt.Errorf("%w: short key", ErrInvalidAddress)
	}
	addr := Address{Network: network}
	copy(addr.PublicKey[:], raw[:32])
	if len(raw) > 32 {
		addr.Payload = append([]byte(nil), raw[32:]...)
	}
	return addr, nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	s, err := a.encode()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
