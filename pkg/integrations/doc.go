// Package integrations provides the shared HTTP client for upstream APIs.
//
// # Overview
//
// [Client] wraps net/http with the plumbing every upstream call needs:
//
//   - a base URL and default query parameters (the GitLab API key travels as
//     private_token)
//   - a per-request timeout
//   - optional client-side pacing and retries (see [httputil])
//   - HTTP hooks for metrics (see [observability])
//
// API-specific clients embed it. The only one today is [gitlab].
//
// # Errors
//
// [Client.Get] never panics and never decides for the caller. It returns a
// coded *errors.Error and leaves it to the caller's declared policy whether
// the failure propagates or degrades to an empty result:
//
//	var user gitlab.User
//	if err := c.Get(ctx, "/user", nil, &user); err != nil {
//	    if errors.Is(err, integrations.ErrNotFound) { ... }
//	}
//
// [httputil]: github.com/matzehuels/composerbridge/pkg/httputil
// [observability]: github.com/matzehuels/composerbridge/pkg/observability
// [gitlab]: github.com/matzehuels/composerbridge/pkg/integrations/gitlab
package integrations
