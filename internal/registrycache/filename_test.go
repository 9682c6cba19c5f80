package registrycache

import "testing"

func TestParseFilename(t *testing.T) {
	cases := []struct {
		filename   string
		base, vers string
		ok         bool
	}{
		{"left-pad-1.3.0.tgz", "left-pad", "1.3.0", true},
		{"left-pad-1.3.0-beta.1.tgz", "left-pad", "1.3.0-beta.1", true},
		{"left-pad-1.3.0+build.5.tgz", "left-pad", "1.3.0+build.5", true},
		{"not-a-tarball.txt", "", "", false},
		{"left-pad.tgz", "", "", false},
	}
	for _, c := range cases {
		base, vers, ok := ParseFilename(c.filename)
		if ok != c.ok {
			t.Fatalf("%s: ok = %v, want %v", c.filename, ok, c.ok)
		}
		if ok && (base != c.base || vers != c.vers) {
			t.Fatalf("%s: got (%s, %s), want (%s, %s)", c.filename, base, vers, c.base, c.vers)
		}
	}
}
