package security

import (
	"net/http"
	"time"
)

const (
	CookieName = "auth_token"
	// CookieMaxAge matches SessionTTL.
	CookieMaxAge = int(SessionTTL / time.Second)
)

// SessionCookie wraps token in the session cookie: HttpOnly, Secure,
// SameSite=Strict, Path=/, Max-Age of one standard session.
func SessionCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   CookieMaxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearSessionCookie expires the session cookie on the client immediately.
func ClearSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // emitted as Max-Age=0
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

// EncodeCookie returns the Set-Cookie header value for token.
func EncodeCookie(token string) string {
	return SessionCookie(token).String()
}

// ClearCookie returns the Set-Cookie header value that logs the client out.
func ClearCookie() string {
	return ClearSessionCookie().String()
}

// DecodeToken extracts the session token from a Cookie header value.
// ok is false when the cookie is absent or empty.
func DecodeToken(cookieHeader string) (token string, ok bool) {
	r := &http.Request{Header: http.Header{"Cookie": {cookieHeader}}}
	return tokenFromRequest(r)
}

// TokenFromCookie has the signature jwtauth.Verify expects for token finders.
func TokenFromCookie(r *http.Request) string {
	token, _ := tokenFromRequest(r)
	return token
}

func tokenFromRequest(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
