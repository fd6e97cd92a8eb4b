package upload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStager(t *testing.T, opts ...func(*Config)) *Stager {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		TempDir:     filepath.Join(root, "tmp"),
		ImageDir:    filepath.Join(root, "public", "images"),
		DownloadDir: filepath.Join(root, "public", "downloads"),
		// Long enough that the background sweep never fires mid-test.
		SweepInterval: time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := NewStager(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNewStagerRemovesOrphanedTempFiles(t *testing.T) {
	root := t.TempDir()
	tempDir := filepath.Join(root, "tmp")
	require.NoError(t, os.MkdirAll(tempDir, 0o755))

	// A staged file left behind by a crashed process. The registry died
	// with that process, so no commit can ever reach it.
	orphan := filepath.Join(tempDir, "11111111-2222-3333-4444-555555555555")
	require.NoError(t, os.WriteFile(orphan, []byte("leftover"), 0o600))

	s, err := NewStager(Config{
		TempDir:     tempDir,
		ImageDir:    filepath.Join(root, "public", "images"),
		DownloadDir: filepath.Join(root, "public", "downloads"),
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err), "orphaned staged file must not survive a restart")
}

func TestStageImageSuggestsImagePath(t *testing.T) {
	s := newStager(t)

	res, err := s.Stage(strings.NewReader("pngdata"), KindImage, "image/png", "cover.PNG")
	require.NoError(t, err)

	assert.NotEmpty(t, res.UploadID)
	assert.Equal(t, "cover.PNG", res.OriginalName)
	assert.True(t, strings.HasPrefix(res.SuggestedPath, "/images/"), res.SuggestedPath)
	assert.True(t, strings.HasSuffix(res.SuggestedPath, ".png"), res.SuggestedPath)
	assert.Contains(t, res.SuggestedPath, "cover-")

	// Staged, not published.
	p, ok := s.Lookup(res.UploadID)
	require.True(t, ok)
	assert.Equal(t, StateStaged, p.State)
	entries, err := os.ReadDir(s.cfg.ImageDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStageRejectsDisallowedTypes(t *testing.T) {
	s := newStager(t)

	cases := []struct {
		kind        Kind
		contentType string
		filename    string
	}{
		{KindImage, "image/png", "script.sh"},
		{KindImage, "text/html", "page.png"},
		{KindDownload, "application/zip", "binary.exe"},
		{KindDownload, "text/plain", "release.zip"},
		{KindImage, "image/png", ".png"},
		{KindImage, "image/png", ""},
	}
	for _, tc := range cases {
		_, err := s.Stage(strings.NewReader("x"), tc.kind, tc.contentType, tc.filename)
		assert.ErrorIs(t, err, ErrDisallowedType, "%s %s %s", tc.kind, tc.contentType, tc.filename)
	}
}

func TestStageRejectsOversizePayload(t *testing.T) {
	s := newStager(t, func(c *Config) { c.MaxSize = 10 })

	_, err := s.Stage(strings.NewReader("12345678901"), KindImage, "image/png", "big.png")
	assert.ErrorIs(t, err, ErrTooLarge)

	// No temp litter after a rejected stage.
	entries, rerr := os.ReadDir(s.cfg.TempDir)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
}

func TestStageRejectsEmptyPayload(t *testing.T) {
	s := newStager(t)
	_, err := s.Stage(strings.NewReader(""), KindImage, "image/png", "empty.png")
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestCommitPublishesExactlyOnce(t *testing.T) {
	s := newStager(t)

	res, err := s.Stage(strings.NewReader("zipdata"), KindDownload, "application/zip", "Release v2.zip")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.SuggestedPath, "/downloads/"))

	got, err := s.Commit(res.UploadID, KindDownload, res.SuggestedPath)
	require.NoError(t, err)
	assert.Equal(t, res.SuggestedPath, got)

	// The file is live under the public dir.
	final := filepath.Base(res.SuggestedPath)
	data, err := os.ReadFile(filepath.Join(s.cfg.DownloadDir, final))
	require.NoError(t, err)
	assert.Equal(t, "zipdata", string(data))

	// Registry record consumed; a second commit fails.
	_, ok := s.Lookup(res.UploadID)
	assert.False(t, ok)
	_, err = s.Commit(res.UploadID, KindDownload, res.SuggestedPath)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitRejectsMismatches(t *testing.T) {
	s := newStager(t)

	img, err := s.Stage(strings.NewReader("img"), KindImage, "image/png", "a.png")
	require.NoError(t, err)
	zip, err := s.Stage(strings.NewReader("zip"), KindDownload, "application/zip", "b.zip")
	require.NoError(t, err)

	// Kind mismatch.
	_, err = s.Commit(img.UploadID, KindDownload, img.SuggestedPath)
	assert.ErrorIs(t, err, ErrMismatch)

	// One upload's id with another's path.
	_, err = s.Commit(img.UploadID, KindImage, zip.SuggestedPath)
	assert.ErrorIs(t, err, ErrMismatch)

	// Tampered path under the right prefix.
	_, err = s.Commit(img.UploadID, KindImage, "/images/evil.png")
	assert.ErrorIs(t, err, ErrMismatch)

	// Unknown id.
	_, err = s.Commit("not-an-id", KindImage, img.SuggestedPath)
	assert.ErrorIs(t, err, ErrNotFound)

	// None of the rejections consumed the staged upload.
	_, ok := s.Lookup(img.UploadID)
	assert.True(t, ok)
}

func TestCancelRemovesTempFile(t *testing.T) {
	s := newStager(t)

	res, err := s.Stage(strings.NewReader("img"), KindImage, "image/png", "a.png")
	require.NoError(t, err)

	require.NoError(t, s.Cancel(res.UploadID))
	assert.ErrorIs(t, s.Cancel(res.UploadID), ErrNotFound)

	entries, err := os.ReadDir(s.cfg.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSweepExpiresStaleUploads(t *testing.T) {
	s := newStager(t, func(c *Config) { c.TTL = time.Minute })

	res, err := s.Stage(strings.NewReader("img"), KindImage, "image/png", "old.png")
	require.NoError(t, err)

	// A sweep before the TTL leaves it alone.
	assert.Equal(t, 0, s.Sweep(time.Now()))

	expired := s.Sweep(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 1, expired)

	// Unreachable afterwards: commit fails and the temp file is gone.
	_, err = s.Commit(res.UploadID, KindImage, res.SuggestedPath)
	assert.ErrorIs(t, err, ErrNotFound)
	entries, err := os.ReadDir(s.cfg.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("image")
	require.NoError(t, err)
	assert.Equal(t, KindImage, k)

	k, err = ParseKind("download")
	require.NoError(t, err)
	assert.Equal(t, KindDownload, k)

	_, err = ParseKind("video")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Cover Art":        "cover-art",
		"café_menu":        "cafe-menu",
		"  --weird--  ":    "weird",
		"日本語":              "asset",
		"Release v2 (rc1)": "release-v2-rc1",
	}
	for in, want := range cases {
		assert.Equal(t, want, slugify(in), in)
	}

	long := slugify(strings.Repeat("a", 200))
	assert.LessOrEqual(t, len(long), maxSlugLen)
}

func TestBaseNameStripsDirectories(t *testing.T) {
	assert.Equal(t, "cover", baseName(`..\evil\cover.png`, ".png"))
	assert.Equal(t, "cover", baseName("/tmp/cover.png", ".png"))
	assert.Equal(t, "bundle", baseName("bundle.tar.gz", ".tar.gz"))
}
