package registrycache

import "regexp"

// tarballFilenameRE captures a package tarball filename's base name and
// semver version. Resolved from the Open Question in spec §8 by following
// the npm tarball naming convention ("<name>-<version>.tgz") exercised by
// the upstream metadata this system consumes.
var tarballFilenameRE = regexp.MustCompile(`^(?P<base>.+)-(?P<version>\d+\.\d+\.\d+(?:-[0-9A-Za-z.]+)?(?:\+[0-9A-Za-z.]+)?)\.tgz$`)

// ParseFilename splits a tarball filename into its package base name and
// version. ok is false if filename doesn't match the expected shape.
func ParseFilename(filename string) (base, version string, ok bool) {
	m := tarballFilenameRE.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
