package identity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Platform tags the chat platform a user id belongs to.
type Platform uint8

const (
	PlatformDiscord  Platform = 1
	PlatformTelegram Platform = 2
)

// EncodedLen is the size of the canonical encoding: tag byte + big-endian id.
const EncodedLen = 9

var (
	// ErrInvalidEncoding is returned when bytes do not decode to a UserIdentity.
	ErrInvalidEncoding = errors.New("invalid identity encoding")
	// ErrUnknownPlatform is returned for tags or names that name no platform.
	ErrUnknownPlatform = errors.New("unknown platform")
)

func (p Platform) String() string {
	switch p {
	case PlatformDiscord:
		return "discord"
	case PlatformTelegram:
		return "telegram"
	default:
		return "platform(" + strconv.Itoa(int(p)) + ")"
	}
}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	return p == PlatformDiscord || p == PlatformTelegram
}

// ParsePlatform resolves a platform name such as "discord".
func ParsePlatform(name string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "discord":
		return PlatformDiscord, nil
	case "telegram":
		return PlatformTelegram, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}
}

// UserIdentity identifies a ledger user across platforms. It is comparable and
// used directly as a map key.
type UserIdentity struct {
	Platform Platform
	ID       uint64
}

// Discord builds the identity of a Discord user.
func Discord(id uint64) UserIdentity {
	return UserIdentity{Platform: PlatformDiscord, ID: id}
}

// Telegram builds the identity of a Telegram user.
func Telegram(id uint64) UserIdentity {
	return UserIdentity{Platform: PlatformTelegram, ID: id}
}

// Bytes returns the canonical encoding used as ledger key and as the payload
// embedded in deposit addresses.
func (u UserIdentity) Bytes() []byte {
	buf := make([]byte, EncodedLen)
	buf[0] = byte(u.Platform)
	binary.BigEndian.PutUint64(buf[1:], u.ID)
	return buf
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (u UserIdentity) MarshalBinary() ([]byte, error) {
	if !u.Platform.Valid() {
		return nil, fmt.Errorf("%w: tag %d", ErrUnknownPlatform, u.Platform)
	}
	return u.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (u *UserIdentity) UnmarshalBinary(data []byte) error {
	decoded, err := FromBytes(data)
	if err != nil {
		return err
	}
	*u = decoded
	return nil
}

// FromBytes decodes the canonical encoding.
func FromBytes(data []byte) (UserIdentity, error) {
	if len(data) != EncodedLen {
		return UserIdentity{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidEncoding, EncodedLen, len(data))
	}
	p := Platform(data[0])
	if !p.Valid() {
		return UserIdentity{}, fmt.Errorf("%w: tag %d", ErrUnknownPlatform, data[0])
	}
	return UserIdentity{Platform: p, ID: binary.BigEndian.Uint64(data[1:])}, nil
}

// String renders the identity as "<platform>:<id>".
func (u UserIdentity) String() string {
	return u.Platform.String() + ":" + strconv.FormatUint(u.ID, 10)
}

// Parse reads the "<platform>:<id>" text form.
func Parse(s string) (UserIdentity, error) {
	name, id, ok := strings.Cut(s, ":")
	if !ok {
		return UserIdentity{}, fmt.Errorf("%w: %q", ErrInvalidEncoding, s)
	}
	return FromParts(name, id)
}

// FromParts builds an identity from a platform name and a decimal id.
func FromParts(platform, id string) (UserIdentity, error) {
	p, err := ParsePlatform(platform)
	if err != nil {
		return UserIdentity{}, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return UserIdentity{}, fmt.Errorf("%w: user id %q", ErrInvalidEncoding, id)
	}
	return UserIdentity{Platform: p, ID: n}, nil
}

// MarshalText implements encoding.TextMarshaler so identities serialize as
// strings in JSON.
func (u UserIdentity) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *UserIdentity) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
