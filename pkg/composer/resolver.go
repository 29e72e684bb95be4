package composer

import (
	"context"

	"github.com/charmbracelet/log"

	errs "github.com/matzehuels/composerbridge/pkg/errors"
	"github.com/matzehuels/composerbridge/pkg/integrations/gitlab"
)

// ManifestFile is the file read from every ref.
const ManifestFile = "composer.json"

// Operation names used in [Policies].
const (
	OpFetchManifest = "fetch-manifest"
	OpParseManifest = "parse-manifest"
	OpNameCheck     = "manifest-name"
	OpInjectSource  = "inject-source"
	OpRefLoop       = "ref-loop"
)

// Policies declares how resolution failures are handled. A ref without a
// usable manifest is simply absent from the result; only cancellation of the
// whole ref loop is reported to the caller.
var Policies = errs.Policies{
	OpFetchManifest: errs.ConvertToEmpty,
	OpParseManifest: errs.ConvertToEmpty,
	OpNameCheck:     errs.ConvertToEmpty,
	OpInjectSource:  errs.LogAndSkip,
	OpRefLoop:       errs.Propagate,
}

// Source is the upstream the resolver reads from. *gitlab.Client implements it.
type Source interface {
	GetFileContent(ctx context.Context, projectID int64, path, ref string) ([]byte, error)
	GetBranchesAndTags(ctx context.Context, projectID int64) []gitlab.Ref
}

// Versions maps a version string to its package entry for one project.
type Versions map[string]*Manifest

// Packages maps a package name (namespaced project path) to its versions.
type Packages map[string]Versions

// Document is the aggregate packages.json served to Composer.
type Document struct {
	Packages Packages `json:"packages"`
}

// NewDocument wraps p, never producing a null "packages" member.
func NewDocument(p Packages) Document {
	if p == nil {
		p = Packages{}
	}
	return Document{Packages: p}
}

// SourceInfo is the VCS source block injected into every package entry.
type SourceInfo struct {
	URL       string `json:"url"`
	Type      string `json:"type"`
	Reference string `json:"reference"`
}

// Resolver turns project refs into Composer package entries.
type Resolver struct {
	src     Source
	urlType gitlab.URLType
	logger  *log.Logger
}

// NewResolver creates a Resolver that publishes repository URLs of urlType.
func NewResolver(src Source, urlType gitlab.URLType, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	if urlType == "" {
		urlType = gitlab.URLTypeHTTP
	}
	return &Resolver{src: src, urlType: urlType, logger: logger}
}

// ResolveManifest fetches composer.json of p at ref, or at the default branch
// when ref is empty. It returns nil unless the file exists, is a JSON object,
// and its name matches the project path case-insensitively. The name check
// keeps a project from publishing under another package's name.
func (r *Resolver) ResolveManifest(ctx context.Context, p *gitlab.Project, ref string) *Manifest {
	if ref == "" {
		ref = p.DefaultBranch
	}

	data, err := r.src.GetFileContent(ctx, p.ID, ManifestFile, ref)
	if err != nil {
		_ = Policies.Apply(r.logger, OpFetchManifest, err, "project", p.PathWithNamespace, "ref", ref)
		return nil
	}

	m, err := ParseManifest(data)
	if err != nil {
		_ = Policies.Apply(r.logger, OpParseManifest, errs.Wrap(errs.ErrCodeInvalidField, err, "%s", ManifestFile),
			"project", p.PathWithNamespace, "ref", ref)
		return nil
	}

	if _, ok := m.Name(); !ok {
		_ = Policies.Apply(r.logger, OpParseManifest, errs.MissingField("name"), "project", p.PathWithNamespace, "ref", ref)
		return nil
	}
	if !m.MatchesPath(p.PathWithNamespace) {
		name, _ := m.Name()
		err := errs.New(errs.ErrCodeManifestMismatch, "manifest name %q does not match project %q", name, p.PathWithNamespace)
		_ = Policies.Apply(r.logger, OpNameCheck, err, "ref", ref)
		return nil
	}
	return m
}

// ResolveProjectVersions resolves the manifest at every branch, then every
// tag, of p. Each valid manifest is stored under the version derived from
// the ref name, with "version" and "source" injected. Refs mapping to the
// same version overwrite each other in that order, so a tag wins over a
// branch of the same name.
//
// It returns nil when no ref has a valid manifest. If ctx is cancelled the
// loop stops and returns what was collected so far along with ctx.Err().
func (r *Resolver) ResolveProjectVersions(ctx context.Context, p *gitlab.Project) (Versions, error) {
	var versions Versions
	source := SourceInfo{URL: p.RepoURL(r.urlType), Type: "git"}

	for _, ref := range r.src.GetBranchesAndTags(ctx, p.ID) {
		if ctx.Err() != nil {
			break
		}

		m := r.ResolveManifest(ctx, p, ref.CommitID)
		if m == nil {
			continue
		}

		version := DeriveVersion(ref.Name)
		entry := m.Clone()
		source.Reference = ref.CommitID
		if err := inject(entry, version, source); err != nil {
			_ = Policies.Apply(r.logger, OpInjectSource, err, "project", p.PathWithNamespace, "ref", ref.Name)
			continue
		}

		if versions == nil {
			versions = make(Versions)
		}
		versions[version] = entry
	}

	// a cancelled context also empties every upstream call, so the result is
	// only trustworthy when the context survived the whole loop
	if err := Policies.Apply(r.logger, OpRefLoop, ctx.Err(), "project", p.PathWithNamespace); err != nil {
		return versions, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	r.logger.Debug("resolved project", "project", p.PathWithNamespace, "versions", len(versions))
	return versions, nil
}

func inject(m *Manifest, version string, source SourceInfo) error {
	if err := m.Set("version", version); err != nil {
		return err
	}
	return m.Set("source", source)
}
