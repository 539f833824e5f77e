package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/CloudNativeWorks/relfetch/internal/operations/common"
	"github.com/sirupsen/logrus"
)

// maxJSONResponseBytes bounds how much of a metadata response is read (10 MiB).
const maxJSONResponseBytes = 10 << 20

// Resolver looks up release metadata on a GitHub-compatible API.
type Resolver struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string
	logger     *logrus.Entry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used for metadata requests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// WithBaseURL overrides the API root, mostly for test servers.
func WithBaseURL(base string) Option {
	return func(r *Resolver) { r.baseURL = strings.TrimRight(base, "/") }
}

// WithToken authenticates requests, lifting the anonymous rate limit.
func WithToken(token string) Option {
	return func(r *Resolver) { r.token = token }
}

// WithUserAgent sets the client-identifying header.
func WithUserAgent(ua string) Option {
	return func(r *Resolver) { r.userAgent = ua }
}

// WithLogger sets the log entry used by the resolver.
func WithLogger(l *logrus.Entry) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver returns a Resolver pointed at api.github.com.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		httpClient: http.DefaultClient,
		baseURL:    "https://api.github.com",
		userAgent:  "relfetch (dev)",
		logger:     logrus.WithField("component", "release-resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SplitRepository splits "owner/name" and rejects anything else.
func SplitRepository(repository string) (owner, name string, err error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &common.InputError{
			Field:  "repository",
			Value:  repository,
			Reason: `must be in the format "username/repo"`,
		}
	}
	return parts[0], parts[1], nil
}

// IsLatest reports whether version selects the most recent release.
func IsLatest(version string) bool {
	return version == "" || version == LatestSelector
}

// ReleaseURL builds the metadata URL for repository at version.
func (r *Resolver) ReleaseURL(owner, name, version string) string {
	selector := LatestSelector
	if !IsLatest(version) {
		selector = "tags/" + url.PathEscape(version)
	}
	return fmt.Sprintf("%s/repos/%s/%s/releases/%s",
		r.baseURL, url.PathEscape(owner), url.PathEscape(name), selector)
}

// Resolve issues a single metadata request for repository at version.
// There are no retries.
func (r *Resolver) Resolve(ctx context.Context, repository, version string) (*Descriptor, error) {
	owner, name, err := SplitRepository(repository)
	if err != nil {
		return nil, err
	}
	if IsLatest(version) {
		version = LatestSelector
	}

	reqURL := r.ReleaseURL(owner, name, version)
	log := r.logger.WithFields(logrus.Fields{
		"repository": repository,
		"version":    version,
		"url":        reqURL,
	})
	log.Info("Resolving release")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, &common.ResolutionError{URL: reqURL, Err: err}
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithError(err).Error("Failed to fetch release metadata")
		return nil, &common.ResolutionError{URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONResponseBytes))
	if err != nil {
		return nil, &common.ResolutionError{URL: reqURL, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	notFound := &common.ReleaseNotFoundError{
		Repository: repository,
		Version:    version,
		URL:        reqURL,
		StatusCode: resp.StatusCode,
	}

	var rel githubRelease
	if err := json.Unmarshal(body, &rel); err != nil {
		// GitHub answers missing repos with JSON, so an unparseable error
		// page still means the release is not there.
		if resp.StatusCode != http.StatusOK {
			log.WithField("status", resp.StatusCode).Warn("Release not found")
			return nil, notFound
		}
		log.WithError(err).Error("Failed to decode release metadata")
		return nil, &common.ResolutionError{URL: reqURL, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK || rel.Message == notFoundMessage || rel.TagName == "" || rel.ZipballURL == "" {
		log.WithFields(logrus.Fields{
			"status":  resp.StatusCode,
			"message": rel.Message,
		}).Warn("Release not found")
		return nil, notFound
	}

	desc := &Descriptor{
		Name:        rel.Name,
		Description: rel.Body,
		Version:     rel.TagName,
		Draft:       rel.Draft,
		Prerelease:  rel.Prerelease,
		CreatedAt:   rel.CreatedAt,
		PublishedAt: rel.PublishedAt,
		HTMLURL:     rel.HTMLURL,
		ArchiveURL:  rel.ZipballURL,
		TarballURL:  rel.TarballURL,
	}

	log.WithField("tag", desc.Version).Info("Release resolved")
	return desc, nil
}
