package ids

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prefixes for each record type.
const (
	PrefixOrganization         = "org"
	PrefixInstance             = "inst"
	PrefixProfile              = "prof"
	PrefixVariantProvider      = "vprov"
	PrefixServer               = "srv"
	PrefixCustomServer         = "csrv"
	PrefixEnvironment          = "csenv"
	PrefixServerVariant        = "svar"
	PrefixConfigSchema         = "scfg"
	PrefixServerVersion        = "sver"
	PrefixCustomServerVersion  = "csver"
	PrefixRemoteServerInstance = "rsi"
)

// ShortIDLength is the length of variant identifiers and version hashes.
const ShortIDLength = 8

const (
	shortIDAlphabet    = "abcdefghijklmnopqrstuvwxyz0123456789"
	maxShortIDAttempts = 20
)

// ErrShortIDExhausted is returned when no free short id was found.
var ErrShortIDExhausted = errors.New("could not find an available short id")

// New returns a globally unique identifier of the form <prefix>_<hex>.
func New(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// AvailabilityFunc reports whether a candidate short id is unused.
type AvailabilityFunc func(ctx context.Context, candidate string) (bool, error)

// ShortID generates a random lowercase alphanumeric string of the given length,
// retrying until isAvailable accepts it.
func ShortID(ctx context.Context, length int, isAvailable AvailabilityFunc) (string, error) {
	for attempt := 0; attempt < maxShortIDAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate, err := randomString(length)
		if err != nil {
			return "", err
		}

		ok, err := isAvailable(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check short id availability: %w", err)
		}
		if ok {
			return candidate, nil
		}
	}
	return "", ErrShortIDExhausted
}

func randomString(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = shortIDAlphabet[int(b)%len(shortIDAlphabet)]
	}
	return string(out), nil
}
