package adapter

import (
	"strings"

	"github.com/hazyhaar/psp/driver"
	"github.com/hazyhaar/psp/session"
)

// NormalizeCookie converts a driver-native cookie record into the
// canonical shape, applying the canonical defaults: path "/", httpOnly
// and secure false, sameSite Lax. Expiry presence is preserved exactly:
// a record without an expires field stays a session cookie.
func NormalizeCookie(raw driver.Cookie) session.Cookie {
	c := session.Cookie{
		Name:     str(raw, "name"),
		Value:    str(raw, "value"),
		Domain:   str(raw, "domain"),
		Path:     str(raw, "path"),
		HTTPOnly: boolean(raw, "httpOnly"),
		Secure:   boolean(raw, "secure"),
		SameSite: canonicalSameSite(str(raw, "sameSite")),
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if v, ok := num(raw, "expires"); ok {
		c.Expires = &v
	}
	return c
}

// DenormalizeCookie converts a canonical cookie back into the
// driver-native record. Round-trip with NormalizeCookie is lossless for
// name, domain, path, httpOnly, secure, sameSite and expiry presence.
func DenormalizeCookie(c session.Cookie) driver.Cookie {
	path := c.Path
	if path == "" {
		path = "/"
	}
	sameSite := c.SameSite
	if sameSite == "" {
		sameSite = session.SameSiteLax
	}
	raw := driver.Cookie{
		"name":     c.Name,
		"value":    c.Value,
		"domain":   c.Domain,
		"path":     path,
		"httpOnly": c.HTTPOnly,
		"secure":   c.Secure,
		"sameSite": sameSite,
	}
	if c.Expires != nil {
		raw["expires"] = *c.Expires
	}
	return raw
}

func canonicalSameSite(v string) string {
	switch strings.ToLower(v) {
	case "strict":
		return session.SameSiteStrict
	case "none":
		return session.SameSiteNone
	default:
		return session.SameSiteLax
	}
}

func str(raw driver.Cookie, key string) string {
	v, _ := raw[key].(string)
	return v
}

func boolean(raw driver.Cookie, key string) bool {
	v, _ := raw[key].(bool)
	return v
}

func num(raw driver.Cookie, key string) (float64, bool) {
	switch v := raw[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
