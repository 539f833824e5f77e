package pipeline

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/CloudNativeWorks/relfetch/internal/cmdrunner"
	"github.com/CloudNativeWorks/relfetch/internal/config"
	"github.com/CloudNativeWorks/relfetch/internal/operations/common"
	"github.com/CloudNativeWorks/relfetch/pkg/logger"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type file struct {
	name    string
	content string
}

var projectFiles = []file{
	{"proj-1.2.3/package.json", `{"name":"proj","version":"1.2.3"}`},
	{"proj-1.2.3/index.js", "module.exports = 42;\n"},
	{"proj-1.2.3/lib/util.js", "exports.noop = () => {};\n"},
}

func totalSize(files []file) int64 {
	var n int64
	for _, f := range files {
		n += int64(len(f.content))
	}
	return n
}

func zipBytes(t *testing.T, files []file) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarGzBytes(t *testing.T, files []file) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, f := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     f.name,
			Mode:     0o644,
			Size:     int64(len(f.content)),
		}))
		_, err := tw.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

// fakeGitHub serves release metadata and a redirecting archive endpoint.
type fakeGitHub struct {
	srv      *httptest.Server
	hits     atomic.Int32
	archive  []byte
	tarball  []byte
	tag      string
	dlStatus int
}

func newFakeGitHub(t *testing.T, archive []byte) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{archive: archive, tag: "v1.2.3", dlStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/owner/proj/releases/", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		selector := strings.TrimPrefix(r.URL.Path, "/repos/owner/proj/releases/")
		if selector != "latest" && selector != "tags/"+f.tag {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tag_name":    f.tag,
			"name":        f.tag,
			"zipball_url": f.srv.URL + "/zipball/" + f.tag,
			"tarball_url": f.srv.URL + "/tarball/" + f.tag,
		})
	})
	mux.HandleFunc("/zipball/", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		http.Redirect(w, r, "/codeload/archive.zip", http.StatusFound)
	})
	mux.HandleFunc("/codeload/archive.zip", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if f.dlStatus != http.StatusOK {
			w.WriteHeader(f.dlStatus)
			return
		}
		_, _ = w.Write(f.archive)
	})
	mux.HandleFunc("/tarball/", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		_, _ = w.Write(f.tarball)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func testConfig(t *testing.T, apiURL string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.GitHub.APIURL = apiURL
	cfg.WorkDir = t.TempDir()
	cfg.HTTP.RequestsPerSecond = 0
	cfg.Install.Command = []string{"sh", "-c", "mkdir -p node_modules && printf abc > node_modules/dep.js"}
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config) *Pipeline {
	t.Helper()
	p, err := FromConfig(cfg, "0.0.0-test", Deps{Stdio: cmdrunner.Stdio{}}, logger.Discard())
	require.NoError(t, err)
	return p
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
}

func assertNoScratch(t *testing.T, workDir string) {
	t.Helper()
	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), scratchPrefix), "leftover scratch %s", e.Name())
	}
}

func TestRun_InvalidRepositoryMakesNoRequest(t *testing.T) {
	gh := newFakeGitHub(t, nil)
	cfg := testConfig(t, gh.srv.URL)
	p := newTestPipeline(t, cfg)

	for _, repo := range []string{"", "proj", "owner-proj", "a/b/c"} {
		_, err := p.Run(context.Background(), Request{Repository: repo, Destination: "proj"})
		var inputErr *common.InputError
		require.ErrorAs(t, err, &inputErr, "repo %q", repo)
	}
	assert.Zero(t, gh.hits.Load())
}

func TestRun_EmptyDestination(t *testing.T) {
	gh := newFakeGitHub(t, nil)
	p := newTestPipeline(t, testConfig(t, gh.srv.URL))

	_, err := p.Run(context.Background(), Request{Repository: "owner/proj"})
	var inputErr *common.InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Zero(t, gh.hits.Load())
}

func TestRun_DestinationConflictIsStable(t *testing.T) {
	gh := newFakeGitHub(t, zipBytes(t, projectFiles))
	cfg := testConfig(t, gh.srv.URL)
	dest := filepath.Join(cfg.WorkDir, "proj")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "existing.txt"), []byte("keep"), 0o644))

	p := newTestPipeline(t, cfg)
	for i := 0; i < 2; i++ {
		_, err := p.Run(context.Background(), Request{Repository: "owner/proj", Destination: "proj"})
		var conflict *common.DestinationConflictError
		require.ErrorAs(t, err, &conflict, "call %d", i)
	}
	assert.Zero(t, gh.hits.Load())
	assertNoScratch(t, cfg.WorkDir)
}

func TestRun_SkipInstall(t *testing.T) {
	archive := zipBytes(t, projectFiles)
	gh := newFakeGitHub(t, archive)
	cfg := testConfig(t, gh.srv.URL)
	p := newTestPipeline(t, cfg)

	report, err := p.Run(context.Background(), Request{
		Repository:  "owner/proj",
		Destination: "proj",
		SkipInstall: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "v1.2.3", report.Version)
	assert.Equal(t, filepath.Join(cfg.WorkDir, "proj"), report.Destination)
	assert.Equal(t, int64(len(archive)), report.ArchiveSize)
	assert.Equal(t, totalSize(projectFiles), report.ExtractedSize)
	assert.Equal(t, report.ExtractedSize, report.InstalledSize)
	assert.True(t, report.InstallSkipped)
	assert.False(t, report.InstallRan)
	assert.GreaterOrEqual(t, report.TotalTime, report.DownloadTime+report.ExtractionTime+report.InstallationTime)

	assert.FileExists(t, filepath.Join(cfg.WorkDir, "proj", "lib", "util.js"))
	assert.NoDirExists(t, filepath.Join(cfg.WorkDir, "proj", "node_modules"))
	assertNoScratch(t, cfg.WorkDir)
}

func TestRun_InstallAddsCacheSize(t *testing.T) {
	requireShell(t)
	gh := newFakeGitHub(t, zipBytes(t, projectFiles))
	cfg := testConfig(t, gh.srv.URL)
	p := newTestPipeline(t, cfg)

	report, err := p.Run(context.Background(), Request{Repository: "owner/proj", Destination: "proj", Version: "v1.2.3"})
	require.NoError(t, err)

	assert.True(t, report.InstallRan)
	assert.Empty(t, report.InstallErr)
	assert.Equal(t, report.ExtractedSize+3, report.InstalledSize)
	assert.FileExists(t, filepath.Join(cfg.WorkDir, "proj", "node_modules", "dep.js"))
}

func TestRun_InstallFailureIsReported(t *testing.T) {
	requireShell(t)
	gh := newFakeGitHub(t, zipBytes(t, projectFiles))
	cfg := testConfig(t, gh.srv.URL)
	cfg.Install.Command = []string{"sh", "-c", "mkdir -p node_modules && printf ab > node_modules/partial && exit 3"}
	p := newTestPipeline(t, cfg)

	report, err := p.Run(context.Background(), Request{Repository: "owner/proj", Destination: "proj"})
	require.NoError(t, err)

	assert.True(t, report.InstallRan)
	assert.Contains(t, report.InstallErr, "failed with code: 3")
	assert.Equal(t, report.ExtractedSize+2, report.InstalledSize)
}

func TestRun_InstallFailureCanAbort(t *testing.T) {
	requireShell(t)
	gh := newFakeGitHub(t, zipBytes(t, projectFiles))
	cfg := testConfig(t, gh.srv.URL)
	cfg.Install.Command = []string{"sh", "-c", "exit 4"}
	cfg.Install.FailOnError = true
	p := newTestPipeline(t, cfg)

	_, err := p.Run(context.Background(), Request{Repository: "owner/proj", Destination: "proj"})
	var instErr *common.InstallationError
	require.ErrorAs(t, err, &instErr)
	assert.Equal(t, 4, instErr.ExitCode)
}

func TestRun_ReleaseNotFound(t *testing.T) {
	gh := newFakeGitHub(t, zipBytes(t, projectFiles))
	cfg := testConfig(t, gh.srv.URL)
	p := newTestPipeline(t, cfg)

	_, err := p.Run(context.Background(), Request{Repository: "owner/proj", Destination: "proj", Version: "v9.9.9"})

	var notFound *common.ReleaseNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "v9.9.9", notFound.Version)
	assert.NoDirExists(t, filepath.Join(cfg.WorkDir, "proj"))
	assertNoScratch(t, cfg.WorkDir)
}

func TestRun_DownloadFailureCleansUp(t *testing.T) {
	gh := newFakeGitHub(t, zipBytes(t, projectFiles))
	gh.dlStatus = http.StatusNotFound
	cfg := testConfig(t, gh.srv.URL)
	p := newTestPipeline(t, cfg)

	_, err := p.Run(context.Background(), Request{Repository: "owner/proj", Destination: "proj"})

	var dlErr *common.DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, http.StatusNotFound, dlErr.StatusCode)
	assertNoScratch(t, cfg.WorkDir)
}

func TestRun_MultipleRootsRejected(t *testing.T) {
	gh := newFakeGitHub(t, zipBytes(t, []file{
		{"one/a.txt", "a"},
		{"two/b.txt", "b"},
	}))
	cfg := testConfig(t, gh.srv.URL)
	p := newTestPipeline(t, cfg)

	_, err := p.Run(context.Background(), Request{Repository: "owner/proj", Destination: "proj"})

	var exErr *common.ExtractionError
	require.ErrorAs(t, err, &exErr)
	assert.NoDirExists(t, filepath.Join(cfg.WorkDir, "proj"))
	assertNoScratch(t, cfg.WorkDir)
}

func TestRun_TarGzFormat(t *testing.T) {
	gh := newFakeGitHub(t, nil)
	gh.tarball = tarGzBytes(t, projectFiles)
	cfg := testConfig(t, gh.srv.URL)
	cfg.Download.Format = config.FormatTarGz
	p := newTestPipeline(t, cfg)

	report, err := p.Run(context.Background(), Request{Repository: "owner/proj", Destination: "proj", SkipInstall: true})
	require.NoError(t, err)

	assert.Equal(t, int64(len(gh.tarball)), report.ArchiveSize)
	assert.Equal(t, totalSize(projectFiles), report.ExtractedSize)
	assert.FileExists(t, filepath.Join(cfg.WorkDir, "proj", "index.js"))
	assertNoScratch(t, cfg.WorkDir)
}

func TestRun_AbsoluteDestinationStagesBesideIt(t *testing.T) {
	gh := newFakeGitHub(t, zipBytes(t, projectFiles))
	cfg := testConfig(t, gh.srv.URL)
	elsewhere := t.TempDir()
	dest := filepath.Join(elsewhere, "nested", "proj")
	p := newTestPipeline(t, cfg)

	report, err := p.Run(context.Background(), Request{Repository: "owner/proj", Destination: dest, SkipInstall: true})
	require.NoError(t, err)

	assert.Equal(t, dest, report.Destination)
	assert.FileExists(t, filepath.Join(dest, "index.js"))
	assertNoScratch(t, cfg.WorkDir)
	assertNoScratch(t, filepath.Dir(dest))
}

func TestScratch_StagingSitsBesideDestination(t *testing.T) {
	work := t.TempDir()
	dest := filepath.Join(t.TempDir(), "proj")
	s := newScratch(work, dest, "tar.gz", logger.Discard().Component("pipeline"))

	assert.Equal(t, work, filepath.Dir(s.ArchivePath))
	assert.True(t, strings.HasSuffix(s.ArchivePath, ".tar.gz"))
	assert.Equal(t, filepath.Dir(dest), filepath.Dir(s.StagingDir))
}

func TestScratch_ReleaseIsIdempotent(t *testing.T) {
	work := t.TempDir()
	s := newScratch(work, filepath.Join(work, "proj"), "zip", logger.Discard().Component("pipeline"))

	require.NoError(t, os.WriteFile(s.ArchivePath, []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(s.StagingDir, "root"), 0o755))

	require.NoError(t, s.Release())
	require.NoError(t, s.Release())
	assert.NoFileExists(t, s.ArchivePath)
	assert.NoDirExists(t, s.StagingDir)

	other := newScratch(work, filepath.Join(work, "proj"), "zip", logger.Discard().Component("pipeline"))
	assert.NotEqual(t, s.ArchivePath, other.ArchivePath)
}
