package release

// LatestSelector asks the API for the most recent published release.
const LatestSelector = "latest"

// Descriptor is the normalized view of a published release.
type Descriptor struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Version     string `json:"version" yaml:"version"`
	Draft       bool   `json:"draft" yaml:"draft"`
	Prerelease  bool   `json:"prerelease" yaml:"prerelease"`
	CreatedAt   string `json:"created_at" yaml:"created_at"`
	PublishedAt string `json:"published_at" yaml:"published_at"`
	HTMLURL     string `json:"html_url" yaml:"html_url"`
	ArchiveURL  string `json:"archive_url" yaml:"archive_url"`
	TarballURL  string `json:"tarball_url,omitempty" yaml:"tarball_url,omitempty"`
}

// githubRelease is the wire format of a GitHub Release API response.
type githubRelease struct {
	Message     string `json:"message"`
	Name        string `json:"name"`
	Body        string `json:"body"`
	TagName     string `json:"tag_name"`
	Draft       bool   `json:"draft"`
	Prerelease  bool   `json:"prerelease"`
	CreatedAt   string `json:"created_at"`
	PublishedAt string `json:"published_at"`
	HTMLURL     string `json:"html_url"`
	ZipballURL  string `json:"zipball_url"`
	TarballURL  string `json:"tarball_url"`
}

const notFoundMessage = "Not Found"
