// Package gitlab provides a client for the GitLab REST API endpoints needed
// to publish Composer packages: the current user, the project listing,
// branches, tags and repository files.
//
// # Usage
//
//	client := gitlab.NewClient(gitlab.Options{
//	    BaseURL: "https://gitlab.example.com/api/v4",
//	    APIKey:  token,
//	})
//	user := client.GetCurrentUser(ctx)            // nil if unknown
//	projects := client.ListProjects(ctx, user, gitlab.ListOptions{})
//
// # Records
//
// API records are decoded through validating factories. [NewProject] rejects
// a record missing any required field and names the field in the error, so
// downstream code never sees a half-populated [Project].
//
// # Failure handling
//
// None of the read methods return transport errors. Each failure is handled
// by the policy declared for it in [Policies], which in practice degrades to
// an empty result: no user, a truncated listing, no refs, or
// [integrations.ErrNotFound] for file content.
//
// [integrations.ErrNotFound]: github.com/matzehuels/composerbridge/pkg/integrations.ErrNotFound
package gitlab
