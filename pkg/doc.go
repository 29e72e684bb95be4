// Package pkg provides the libraries behind composerbridge, a bridge that
// publishes GitLab projects as a Composer repository.
//
// # Overview
//
// The pkg directory is organized by concern:
//
//  1. [integrations] - HTTP client plumbing and the GitLab API client
//  2. [composer] - manifests, version derivation and per-project resolution
//  3. [cache] - per-project cache records keyed by namespaced path
//  4. [pipeline] - refresh orchestration, trigger marker and document serving
//  5. [config], [errors], [observability], [httputil], [buildinfo] - support
//
// # Architecture
//
// One refresh flows through:
//
//	GET /user, GET /projects (paged)
//	         ↓
//	    [pipeline] decides whether packages.json is out of date
//	         ↓
//	    [cache] record fresh? otherwise [composer] resolves branches and tags
//	         ↓
//	    packages.json written atomically, served with Last-Modified
//
// # Quick Start
//
//	client := gitlab.NewClient(gitlab.Options{BaseURL: apiURL, APIKey: token})
//	runner, err := pipeline.NewRunner(client, pipeline.Options{Dir: "cache"})
//	if err != nil {
//	    return err
//	}
//	res, err := runner.Refresh(ctx, false)
//
// [integrations]: https://pkg.go.dev/github.com/matzehuels/composerbridge/pkg/integrations
// [composer]: https://pkg.go.dev/github.com/matzehuels/composerbridge/pkg/composer
// [cache]: https://pkg.go.dev/github.com/matzehuels/composerbridge/pkg/cache
// [pipeline]: https://pkg.go.dev/github.com/matzehuels/composerbridge/pkg/pipeline
// [config]: https://pkg.go.dev/github.com/matzehuels/composerbridge/pkg/config
// [errors]: https://pkg.go.dev/github.com/matzehuels/composerbridge/pkg/errors
// [observability]: https://pkg.go.dev/github.com/matzehuels/composerbridge/pkg/observability
// [httputil]: https://pkg.go.dev/github.com/matzehuels/composerbridge/pkg/httputil
// [buildinfo]: https://pkg.go.dev/github.com/matzehuels/composerbridge/pkg/buildinfo
package pkg
