package gitlab

import (
	"bytes"
	"encoding/json"
	"time"

	errs "github.com/matzehuels/composerbridge/pkg/errors"
)

// Record is an undecoded JSON object as returned by the API.
type Record = map[string]json.RawMessage

// User is the account the API key belongs to.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	State    string `json:"state"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
}

// NewUser builds a User from a GET /user record. id and username are
// required; state defaults to "inactive" and is_admin to false.
func NewUser(raw Record) (*User, error) {
	u := &User{State: "inactive"}
	if err := required(raw, "id", &u.ID); err != nil {
		return nil, err
	}
	if err := required(raw, "username", &u.Username); err != nil {
		return nil, err
	}
	for field, dst := range map[string]any{
		"name":     &u.Name,
		"state":    &u.State,
		"email":    &u.Email,
		"is_admin": &u.IsAdmin,
	} {
		if err := optional(raw, field, dst); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// Admin reports whether u can list every project on the instance.
// A nil user is not an admin.
func (u *User) Admin() bool {
	return u != nil && u.IsAdmin
}

// Project is a repository as listed by GET /projects.
type Project struct {
	ID                int64
	DefaultBranch     string
	SSHURL            string
	HTTPURL           string
	WebURL            string
	Name              string
	Path              string
	PathWithNamespace string
	LastActivityAt    time.Time
}

// NewProject validates and decodes a project record. Every field listed
// below must be present and non-null, otherwise a MISSING_FIELD error names
// the first offender. A field of the wrong type fails with INVALID_FIELD.
func NewProject(raw Record) (*Project, error) {
	p := &Project{}
	var activity string
	fields := []struct {
		name string
		dst  any
	}{
		{"id", &p.ID},
		{"default_branch", &p.DefaultBranch},
		{"ssh_url_to_repo", &p.SSHURL},
		{"http_url_to_repo", &p.HTTPURL},
		{"web_url", &p.WebURL},
		{"name", &p.Name},
		{"path", &p.Path},
		{"path_with_namespace", &p.PathWithNamespace},
		{"last_activity_at", &activity},
	}
	for _, f := range fields {
		if err := required(raw, f.name, f.dst); err != nil {
			return nil, err
		}
	}

	t, err := time.Parse(time.RFC3339, activity)
	if err != nil {
		return nil, errs.InvalidField("last_activity_at", err)
	}
	p.LastActivityAt = t
	return p, nil
}

// URLType selects which repository URL is published as a package source.
type URLType string

const (
	URLTypeSSH  URLType = "ssh"
	URLTypeHTTP URLType = "http"
)

// ParseURLType parses "ssh" or "http".
func ParseURLType(s string) (URLType, bool) {
	switch URLType(s) {
	case URLTypeSSH:
		return URLTypeSSH, true
	case URLTypeHTTP:
		return URLTypeHTTP, true
	}
	return "", false
}

// RepoURL returns the clone URL of p for the given URL type.
func (p *Project) RepoURL(t URLType) string {
	if t == URLTypeSSH {
		return p.SSHURL
	}
	return p.HTTPURL
}

// Ref is a branch or a tag. Both share the same shape downstream.
type Ref struct {
	Name     string
	CommitID string
	Release  string // tag release description, empty for branches
}

func newRef(raw Record) (Ref, error) {
	var r Ref
	if err := required(raw, "name", &r.Name); err != nil {
		return Ref{}, err
	}

	var commit Record
	if err := required(raw, "commit", &commit); err != nil {
		return Ref{}, err
	}
	if err := required(commit, "id", &r.CommitID); err != nil {
		return Ref{}, errs.MissingField("commit.id")
	}

	// release is null, a description string, or {"tag_name", "description"}
	if rel, ok := raw["release"]; ok && !isNull(rel) {
		var obj struct {
			Description string `json:"description"`
		}
		if json.Unmarshal(rel, &obj) == nil {
			r.Release = obj.Description
		} else {
			_ = json.Unmarshal(rel, &r.Release)
		}
	}
	return r, nil
}

func required(raw Record, field string, dst any) error {
	v, ok := raw[field]
	if !ok || isNull(v) {
		return errs.MissingField(field)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return errs.InvalidField(field, err)
	}
	return nil
}

func optional(raw Record, field string, dst any) error {
	v, ok := raw[field]
	if !ok || isNull(v) {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return errs.InvalidField(field, err)
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
