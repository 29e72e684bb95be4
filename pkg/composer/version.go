package composer

import "regexp"

var versionPattern = regexp.MustCompile(`^v?\d+\.\d+(\.\d+){0,2}(-(dev|patch|alpha|beta|RC)\d*)?$`)

// DeriveVersion maps a branch or tag name to a Composer version. Names that
// look like a release version are used verbatim, anything else becomes a
// dev version: "1.2.3" stays "1.2.3", "master" becomes "dev-master".
func DeriveVersion(ref string) string {
	if versionPattern.MatchString(ref) {
		return ref
	}
	return "dev-" + ref
}
