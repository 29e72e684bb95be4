// Package composer builds Composer repository metadata from GitLab projects.
//
// A [Resolver] reads composer.json at every branch and tag of a project,
// keeps the manifests whose name matches the project path, and turns each
// into a package entry keyed by a version derived from the ref name
// ([DeriveVersion]). The entries carry an injected "version" and a git
// "source" block pointing at the ref's commit.
//
// [Manifest] preserves key order so the published entries look like the
// composer.json they came from, with the injected keys appended.
package composer
