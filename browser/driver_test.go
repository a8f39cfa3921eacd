package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
)

func TestSameSiteParam(t *testing.T) {
	cases := []struct {
		in   string
		want proto.NetworkCookieSameSite
	}{
		{"Strict", proto.NetworkCookieSameSiteStrict},
		{"strict", proto.NetworkCookieSameSiteStrict},
		{"None", proto.NetworkCookieSameSiteNone},
		{"Lax", proto.NetworkCookieSameSiteLax},
		{"", proto.NetworkCookieSameSiteLax},
		{"bogus", proto.NetworkCookieSameSiteLax},
	}
	for _, c := range cases {
		if got := sameSiteParam(c.in); got != c.want {
			t.Errorf("sameSiteParam(%q): got %v, want %v", c.in, got, c.want)
		}
	}
}

func TestCookieHelpers(t *testing.T) {
	if str("x") != "x" || str(nil) != "" || str(42) != "" {
		t.Error("str coercion")
	}
	if !boolean(true) || boolean(nil) || boolean("yes") {
		t.Error("boolean coercion")
	}
}
