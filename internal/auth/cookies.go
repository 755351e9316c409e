// Package auth handles the gate's session cookie plumbing. Tokens are
// issued and signed by the upstream identity service; this package only
// relays them to the browser.
package auth

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain            string // Empty string = current host only
	Secure            bool   // HTTPS only
	SameSite          string // "strict", "lax", or "none"
	FallbackAccessTTL time.Duration
	FallbackRefreshTTL time.Duration
}

// SetSessionCookies relays the upstream token pair as httpOnly cookies. The
// cookie lifetime follows the token's own exp claim when it can be read;
// signature verification stays with the issuing service.
func SetSessionCookies(w http.ResponseWriter, accessToken, refreshToken string, config CookieConfig) {
	setTokenCookie(w, "access_token", accessToken, tokenMaxAge(accessToken, config.FallbackAccessTTL), config)
	if refreshToken != "" {
		setTokenCookie(w, "refresh_token", refreshToken, tokenMaxAge(refreshToken, config.FallbackRefreshTTL), config)
	}
}

// ClearSessionCookies removes the session cookies.
func ClearSessionCookies(w http.ResponseWriter, config CookieConfig) {
	for _, name := range []string{"access_token", "refresh_token"} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   config.Domain,
			MaxAge:   -1, // Negative MaxAge deletes the cookie
			HttpOnly: true,
			Secure:   config.Secure,
			SameSite: parseSameSite(config.SameSite),
		})
	}
}

func setTokenCookie(w http.ResponseWriter, name, value string, maxAge int, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
		MaxAge:   maxAge,
		HttpOnly: true, // Critical: prevents JavaScript access (XSS protection)
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// tokenMaxAge reads the exp claim without verifying the signature and
// returns the remaining lifetime in seconds, or the fallback when the claim
// is absent or unreadable.
func tokenMaxAge(token string, fallback time.Duration) int {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			if remaining := time.Until(exp.Time); remaining > 0 {
				return int(remaining.Seconds())
			}
		}
	}
	return int(fallback.Seconds())
}

func parseSameSite(mode string) http.SameSite {
	switch mode {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
