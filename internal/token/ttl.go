package token

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTTL reports a token lifetime string that cannot be parsed.
var ErrInvalidTTL = errors.New("token: invalid ttl")

// TTL is a token lifetime. It accepts the short forms used in deployment
// environments ("7d", "2w", "12h", "90m", "3600s", "3600") as well as any
// value understood by time.ParseDuration.
type TTL time.Duration

// ParseTTL parses a lifetime string. Zero and negative lifetimes are rejected.
func ParseTTL(raw string) (TTL, error) {
	value := strings.TrimSpace(strings.ToLower(raw))
	if value == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidTTL)
	}

	var d time.Duration
	switch unit := value[len(value)-1]; unit {
	case 'd', 'w':
		n, err := strconv.ParseInt(value[:len(value)-1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, raw)
		}
		day := 24 * time.Hour
		if unit == 'w' {
			day *= 7
		}
		if n > math.MaxInt64/int64(day) {
			return 0, fmt.Errorf("%w: %q out of range", ErrInvalidTTL, raw)
		}
		d = time.Duration(n) * day
	default:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			if n > math.MaxInt64/int64(time.Second) {
				return 0, fmt.Errorf("%w: %q out of range", ErrInvalidTTL, raw)
			}
			d = time.Duration(n) * time.Second
			break
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, raw)
		}
		d = parsed
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidTTL, raw)
	}
	return TTL(d), nil
}

// Decode implements envconfig.Decoder so an invalid JWT_EXPIRES_IN fails
// configuration loading.
func (t *TTL) Decode(value string) error {
	parsed, err := ParseTTL(value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Duration returns the lifetime as a time.Duration.
func (t TTL) Duration() time.Duration {
	return time.Duration(t)
}

func (t TTL) String() string {
	return time.Duration(t).String()
}
