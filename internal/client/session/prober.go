package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atelier-nova/agency-platform/internal/core/domain"
)

// DefaultFreshnessMargin is how long before expiry a token stops being
// trusted without a refresh.
const DefaultFreshnessMargin = 60 * time.Second

// Prober decides whether a cached pair can be used without a round trip. A
// false "stale" only costs an extra refresh; a false "fresh" surfaces as a
// failed data call downstream.
type Prober struct {
	margin time.Duration
	now    func() time.Time
}

func NewProber(margin time.Duration) *Prober {
	if margin <= 0 {
		margin = DefaultFreshnessMargin
	}
	return &Prober{margin: margin, now: time.Now}
}

// WithClock replaces the clock; used by tests.
func (p *Prober) WithClock(now func() time.Time) *Prober {
	p.now = now
	return p
}

// IsFresh reports whether pair is usable for at least the margin. Without a
// stored expiry the exp claim of the access token is used; its signature is
// not checked here.
func (p *Prober) IsFresh(pair *domain.TokenPair) bool {
	if !pair.Valid() {
		return false
	}
	expiresAt := pair.ExpiresAt
	if expiresAt == 0 {
		expiresAt = tokenExpiry(pair.AccessToken)
	}
	if expiresAt == 0 {
		return false
	}
	return p.now().Add(p.margin).Before(time.Unix(expiresAt, 0))
}

func tokenExpiry(token string) int64 {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.Unix()
}
