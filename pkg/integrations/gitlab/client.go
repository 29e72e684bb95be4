package gitlab

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/composerbridge/pkg/buildinfo"
	errs "github.com/matzehuels/composerbridge/pkg/errors"
	"github.com/matzehuels/composerbridge/pkg/integrations"
)

// Paging limits for list endpoints.
const (
	DefaultPerPage = 100
	MinPerPage     = 10
	MaxPerPage     = 100

	// MaxPages stops pagination against a server that ignores the page parameter.
	MaxPages = 1000
)

// Operation names used in [Policies].
const (
	OpCurrentUser   = "current-user"
	OpListPage      = "list-projects-page"
	OpProjectRecord = "project-record"
	OpFileContent   = "file-content"
	OpListRefs      = "list-refs"
	OpRefRecord     = "ref-record"
)

// Policies declares how each operation handles its failures. Nothing in this
// package propagates upstream errors: every failure degrades to "no data".
var Policies = errs.Policies{
	OpCurrentUser:   errs.ConvertToEmpty,
	OpListPage:      errs.ConvertToEmpty,
	OpProjectRecord: errs.LogAndSkip,
	OpFileContent:   errs.ConvertToEmpty,
	OpListRefs:      errs.ConvertToEmpty,
	OpRefRecord:     errs.ConvertToEmpty,
}

var (
	allowedOrderBy = map[string]bool{
		"id": true, "name": true, "path": true,
		"created_at": true, "updated_at": true, "last_activity_at": true,
	}
	allowedSort = map[string]bool{"asc": true, "desc": true}
)

// Options configures a [Client].
type Options struct {
	BaseURL   string        // API root including the version, e.g. https://gitlab.example.com/api/v4
	APIKey    string        // sent as the private_token query parameter
	Timeout   time.Duration // per-request timeout
	RateLimit float64       // requests per second, 0 for unlimited
	Retries   int           // attempts for retryable failures
	HTTP      *http.Client  // overrides the default client (tests)
	Logger    *log.Logger
}

// Client provides access to the subset of the GitLab REST API needed to
// publish Composer packages.
//
// All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	*integrations.Client
	logger   *log.Logger
	maxPages int
}

// NewClient creates a GitLab API client.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	var query url.Values
	if opts.APIKey != "" {
		query = url.Values{"private_token": {opts.APIKey}}
	}
	return &Client{
		Client: integrations.NewClient(integrations.Options{
			BaseURL:   opts.BaseURL,
			Query:     query,
			Headers:   map[string]string{"User-Agent": buildinfo.UserAgent()},
			Timeout:   opts.Timeout,
			RateLimit: opts.RateLimit,
			Retries:   opts.Retries,
			HTTP:      opts.HTTP,
		}),
		logger:   logger,
		maxPages: MaxPages,
	}
}

// GetCurrentUser returns the user the API key belongs to, or nil when the
// request or the record fails.
func (c *Client) GetCurrentUser(ctx context.Context) *User {
	var raw Record
	err := c.Get(ctx, "/user", nil, &raw)
	if err == nil {
		var u *User
		if u, err = NewUser(raw); err == nil {
			return u
		}
	}
	_ = Policies.Apply(c.logger, OpCurrentUser, err)
	return nil
}

// ListOptions controls project listing. Invalid values are replaced by defaults.
type ListOptions struct {
	OrderBy string // id, name, path, created_at, updated_at or last_activity_at
	Sort    string // asc or desc
	PerPage int    // clamped to [MinPerPage, MaxPerPage], 0 for DefaultPerPage
}

func (o ListOptions) normalize() ListOptions {
	if !allowedOrderBy[o.OrderBy] {
		o.OrderBy = "last_activity_at"
	}
	if !allowedSort[o.Sort] {
		o.Sort = "desc"
	}
	if o.PerPage == 0 {
		o.PerPage = DefaultPerPage
	}
	o.PerPage = min(max(o.PerPage, MinPerPage), MaxPerPage)
	return o
}

// ListProjects pages through every project visible to user. Admins see all
// projects; everyone else, including a nil user, only their memberships.
//
// Pagination ends at the first empty page. A page that fails or does not
// decode counts as empty, so a transient error truncates the listing without
// being reported. Invalid project records are skipped.
func (c *Client) ListProjects(ctx context.Context, user *User, opts ListOptions) *ProjectSet {
	opts = opts.normalize()
	set := NewProjectSet()

	params := url.Values{
		"per_page": {strconv.Itoa(opts.PerPage)},
		"order_by": {opts.OrderBy},
		"sort":     {opts.Sort},
	}
	if !user.Admin() {
		params.Set("membership", "true")
	}

	for page := 1; page <= c.maxPages; page++ {
		params.Set("page", strconv.Itoa(page))

		var records []Record
		if err := c.Get(ctx, "/projects", params, &records); err != nil {
			_ = Policies.Apply(c.logger, OpListPage, err, "page", page)
			break
		}
		if len(records) == 0 {
			break
		}
		for _, raw := range records {
			if err := set.AddRaw(raw); err != nil {
				_ = Policies.Apply(c.logger, OpProjectRecord, err, "id", string(raw["id"]))
			}
		}
	}

	c.logger.Debug("listed projects", "count", set.Len(), "membership", !user.Admin())
	return set
}

// GetFileContent returns the decoded content of path at ref. Any failure,
// including a missing or undecodable content field, is reported as
// [integrations.ErrNotFound].
func (c *Client) GetFileContent(ctx context.Context, projectID int64, path, ref string) ([]byte, error) {
	endpoint := fmt.Sprintf("/projects/%d/repository/files/%s", projectID, EncodePathPart(path))
	params := url.Values{"ref": {ref}}

	var file struct {
		Content *string `json:"content"`
	}
	err := c.Get(ctx, endpoint, params, &file)
	if err == nil && file.Content == nil {
		err = errs.MissingField("content")
	}
	var data []byte
	if err == nil {
		data, err = decodeContent(*file.Content)
	}
	if err != nil {
		_ = Policies.Apply(c.logger, OpFileContent, err, "project", projectID, "path", path, "ref", ref)
		return nil, errs.Wrap(errs.ErrCodeNotFound, integrations.ErrNotFound, "%s at %s", path, ref)
	}
	return data, nil
}

// decodeContent decodes base64 file content, tolerating the line breaks
// some servers insert.
func decodeContent(s string) ([]byte, error) {
	s = strings.NewReplacer("\n", "", "\r", "").Replace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errs.InvalidField("content", err)
	}
	return data, nil
}

// GetBranches returns all branches of a project, or nil on failure.
func (c *Client) GetBranches(ctx context.Context, projectID int64) []Ref {
	return c.listRefs(ctx, fmt.Sprintf("/projects/%d/repository/branches", projectID))
}

// GetTags returns all tags of a project, or nil on failure.
func (c *Client) GetTags(ctx context.Context, projectID int64) []Ref {
	return c.listRefs(ctx, fmt.Sprintf("/projects/%d/repository/tags", projectID))
}

// GetBranchesAndTags returns the branches followed by the tags of a project.
func (c *Client) GetBranchesAndTags(ctx context.Context, projectID int64) []Ref {
	return append(c.GetBranches(ctx, projectID), c.GetTags(ctx, projectID)...)
}

// listRefs pages through a ref endpoint. A failure on any page discards the
// whole listing. Records without a name or commit id are skipped.
func (c *Client) listRefs(ctx context.Context, endpoint string) []Ref {
	params := url.Values{"per_page": {strconv.Itoa(MaxPerPage)}}
	var refs []Ref

	for page := 1; page <= c.maxPages; page++ {
		params.Set("page", strconv.Itoa(page))

		var records []Record
		if err := c.Get(ctx, endpoint, params, &records); err != nil {
			_ = Policies.Apply(c.logger, OpListRefs, err, "endpoint", endpoint, "page", page)
			return nil
		}
		if len(records) == 0 {
			break
		}
		for _, raw := range records {
			ref, err := newRef(raw)
			if err != nil {
				_ = Policies.Apply(c.logger, OpRefRecord, err, "endpoint", endpoint)
				continue
			}
			refs = append(refs, ref)
		}
	}
	return refs
}

const upperhex = "0123456789ABCDEF"

// EncodePathPart percent-encodes a repository file path for use as a single
// URL path segment. Every byte except ASCII letters, digits, '-', '_' and '~'
// is encoded, including '/' and '.'.
func EncodePathPart(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if isPathSafe(ch) {
			b.WriteByte(ch)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[ch>>4])
		b.WriteByte(upperhex[ch&15])
	}
	return b.String()
}

func isPathSafe(ch byte) bool {
	switch {
	case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9':
		return true
	case ch == '-' || ch == '_' || ch == '~':
		return true
	}
	return false
}
