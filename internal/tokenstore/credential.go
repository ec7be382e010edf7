package tokenstore

import "time"

// Credential is the persisted OAuth token triple. ExpiresAt is an absolute
// unix timestamp in seconds, already reduced by the issuance skew.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// ExpirySkew is subtracted from the upstream expires_in at issuance so the
// proxy refreshes slightly before the token actually lapses.
const ExpirySkew = 60 * time.Second

// NewCredential computes the absolute expiry from an expires_in duration in
// seconds, applying ExpirySkew.
func NewCredential(accessToken, refreshToken string, expiresIn int64, now time.Time) *Credential {
	return &Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(time.Duration(expiresIn)*time.Second - ExpirySkew).Unix(),
	}
}

// Expired reports whether the access token is no longer usable at now.
func (c *Credential) Expired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}

// Expiry returns the expiry as a time.Time.
func (c *Credential) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// complete reports whether all three fields are present.
func (c *Credential) complete() bool {
	return c.AccessToken != "" && c.RefreshToken != "" && c.ExpiresAt != 0
}
