package session

// SameSite attribute values. Anything else coming from a driver is
// coerced to SameSiteLax during normalisation.
const (
	SameSiteStrict = "Strict"
	SameSiteLax    = "Lax"
	SameSiteNone   = "None"
)

// Cookie is the canonical snapshot cookie. Identity for round-trip
// purposes is the (Name, Domain, Path) tuple. A nil Expires means a
// session cookie; the distinction must survive normalisation.
type Cookie struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Domain   string   `json:"domain"`
	Path     string   `json:"path"`
	Expires  *float64 `json:"expires,omitempty"` // epoch seconds
	HTTPOnly bool     `json:"httpOnly"`
	Secure   bool     `json:"secure"`
	SameSite string   `json:"sameSite"`
}

// Key returns the identity tuple as a single comparable string.
func (c Cookie) Key() string {
	return c.Name + "\x00" + c.Domain + "\x00" + c.Path
}
