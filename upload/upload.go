// Package upload implements two-phase admission of operator-uploaded
// binary assets. Stage validates a payload and parks it in a private temp
// directory; Commit atomically publishes it under the exact path promised
// at stage time; a background sweep expires staged uploads that are never
// committed. Nothing becomes publicly visible before Commit.
package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/mlindgren/vitrine/internal/util"
	"github.com/mlindgren/vitrine/internal/uuid"
)

// Kind classifies an uploaded asset and selects its public prefix.
type Kind string

const (
	KindImage    Kind = "image"
	KindDownload Kind = "download"
)

// ParseKind validates a client-declared kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindImage:
		return KindImage, nil
	case KindDownload:
		return KindDownload, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrInvalidKind)
	}
}

var (
	ErrInvalidKind    = errors.New("invalid upload kind")
	ErrTooLarge       = errors.New("payload exceeds size limit")
	ErrDisallowedType = errors.New("disallowed file type")
	ErrEmptyPayload   = errors.New("empty payload")
	ErrNotFound       = errors.New("pending upload not found")
	ErrMismatch       = errors.New("pending upload does not match commit request")
)

// State tracks a pending upload through its lifecycle. A record leaves the
// registry the moment it reaches Committed or Expired; no other
// transitions exist.
type State string

const (
	StateStaged    State = "staged"
	StateCommitted State = "committed"
	StateExpired   State = "expired"
)

// Pending describes one staged-but-uncommitted upload.
type Pending struct {
	ID           string
	Kind         Kind
	OriginalName string
	FinalName    string
	PublicPath   string
	CreatedAt    time.Time
	State        State

	tempPath string
}

// StageResult is returned to the caller of Stage. The SuggestedPath must
// be echoed back verbatim on Commit.
type StageResult struct {
	UploadID      string
	SuggestedPath string
	OriginalName  string
}

// Config holds the stager's directories and limits.
type Config struct {
	TempDir     string
	ImageDir    string
	DownloadDir string
	// MaxSize caps the accepted payload size in bytes. Defaults to 25 MiB.
	MaxSize int64
	// TTL bounds how long a staged upload may wait for its commit.
	// Defaults to 30 minutes.
	TTL time.Duration
	// SweepInterval controls the expiry ticker. Defaults to 5 minutes.
	SweepInterval time.Duration

	Logger *slog.Logger
}

const (
	defaultMaxSize       = 25 << 20
	defaultTTL           = 30 * time.Minute
	defaultSweepInterval = 5 * time.Minute

	suffixLen   = 8
	maxSlugLen  = 48
	publicPerm  = 0o644
	privatePerm = 0o600
)

// Stager owns the pending-upload registry and the staging directories.
type Stager struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*Pending

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewStager creates the staging directories if needed and starts the
// background expiry sweep.
func NewStager(cfg Config) (*Stager, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{cfg.TempDir, cfg.ImageDir, cfg.DownloadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating upload directory %s: %w", dir, err)
		}
	}
	if n, err := clearTempDir(cfg.TempDir); err != nil {
		return nil, err
	} else if n > 0 {
		logger.Info("removed orphaned staged files", slog.Int("count", n))
	}
	s := &Stager{
		cfg:     cfg,
		logger:  logger.With("component", "upload"),
		pending: make(map[string]*Pending),
		stopCh:  make(chan struct{}),
	}
	go s.sweepLoop()
	return s, nil
}

// Close stops the expiry sweep. Staged temp files are left for the next
// process start to sweep.
func (s *Stager) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// clearTempDir deletes everything in the staging directory. The registry
// did not survive the last process, so nothing in there can ever be
// committed. Returns the number of entries removed.
func clearTempDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading temp directory %s: %w", dir, err)
	}
	removed := 0
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("removing orphaned staged file %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Stage validates and stages a payload. On success the payload sits in the
// private temp directory and the returned SuggestedPath names where Commit
// will publish it. Nothing is publicly visible yet.
func (s *Stager) Stage(r io.Reader, kind Kind, contentType, originalName string) (StageResult, error) {
	ext, err := allowedExtension(kind, originalName)
	if err != nil {
		return StageResult{}, err
	}
	if err := checkContentType(kind, contentType); err != nil {
		return StageResult{}, err
	}

	suffix, err := util.RandomSuffix(suffixLen)
	if err != nil {
		return StageResult{}, err
	}
	finalName := slugify(baseName(originalName, ext)) + "-" + suffix + ext
	id := uuid.New()
	tempPath := filepath.Join(s.cfg.TempDir, id)

	size, err := writeLimited(tempPath, r, s.cfg.MaxSize)
	if err != nil {
		os.Remove(tempPath)
		return StageResult{}, err
	}

	p := &Pending{
		ID:           id,
		Kind:         kind,
		OriginalName: originalName,
		FinalName:    finalName,
		PublicPath:   publicPath(kind, finalName),
		CreatedAt:    time.Now(),
		State:        StateStaged,
		tempPath:     tempPath,
	}

	s.mu.Lock()
	s.pending[id] = p
	s.mu.Unlock()

	s.logger.Info("upload staged",
		slog.String("upload_id", id),
		slog.String("kind", string(kind)),
		slog.String("path", p.PublicPath),
		slog.Int64("size", size),
	)
	return StageResult{UploadID: id, SuggestedPath: p.PublicPath, OriginalName: originalName}, nil
}

// Commit publishes the staged upload identified by id, provided kind and
// suggestedPath exactly match what Stage promised. The temp file is moved
// into the public directory with a single rename; the registry record is
// consumed. Any mismatch leaves the pending upload untouched so the caller
// can abort the enclosing catalog write without partial effect.
func (s *Stager) Commit(id string, kind Kind, suggestedPath string) (string, error) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if p.State != StateStaged {
		s.mu.Unlock()
		return "", fmt.Errorf("%s in state %s: %w", id, p.State, ErrNotFound)
	}
	if p.Kind != kind {
		s.mu.Unlock()
		return "", fmt.Errorf("kind %s != staged %s: %w", kind, p.Kind, ErrMismatch)
	}
	if p.PublicPath != suggestedPath {
		s.mu.Unlock()
		return "", fmt.Errorf("path %s != staged %s: %w", suggestedPath, p.PublicPath, ErrMismatch)
	}
	// Hold the record out of reach while the rename runs.
	delete(s.pending, id)
	s.mu.Unlock()

	dest := filepath.Join(s.publicDir(p.Kind), p.FinalName)
	if err := os.Rename(p.tempPath, dest); err != nil {
		// Put the record back; the commit can be retried or swept later.
		s.mu.Lock()
		s.pending[id] = p
		s.mu.Unlock()
		return "", fmt.Errorf("publishing upload %s: %w", id, err)
	}
	os.Chmod(dest, publicPerm)
	p.State = StateCommitted

	s.logger.Info("upload committed",
		slog.String("upload_id", id),
		slog.String("path", p.PublicPath),
	)
	return p.PublicPath, nil
}

// Cancel removes a staged upload and its temp file before its TTL runs out.
func (s *Stager) Cancel(id string) error {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	os.Remove(p.tempPath)
	s.logger.Info("upload cancelled", slog.String("upload_id", id))
	return nil
}

// Lookup reports the pending record for id, if one is still staged.
func (s *Stager) Lookup(id string) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// Sweep expires staged uploads older than the TTL as of now, deleting
// their temp files. Returns the number of uploads expired.
func (s *Stager) Sweep(now time.Time) int {
	cutoff := now.Add(-s.cfg.TTL)

	s.mu.Lock()
	var expired []*Pending
	for id, p := range s.pending {
		if p.State == StateStaged && p.CreatedAt.Before(cutoff) {
			p.State = StateExpired
			delete(s.pending, id)
			expired = append(expired, p)
		}
	}
	s.mu.Unlock()

	for _, p := range expired {
		os.Remove(p.tempPath)
		s.logger.Info("upload expired",
			slog.String("upload_id", p.ID),
			slog.String("path", p.PublicPath),
		)
	}
	return len(expired)
}

// sweepLoop runs the expiry sweep on its own timer, independent of request
// traffic.
func (s *Stager) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case t := <-ticker.C:
			s.Sweep(t)
		}
	}
}

func (s *Stager) publicDir(kind Kind) string {
	if kind == KindImage {
		return s.cfg.ImageDir
	}
	return s.cfg.DownloadDir
}

func publicPath(kind Kind, finalName string) string {
	if kind == KindImage {
		return path.Join("/images", finalName)
	}
	return path.Join("/downloads", finalName)
}

// writeLimited copies r into a fresh file at dest, rejecting payloads over
// maxSize without buffering them in memory.
func writeLimited(dest string, r io.Reader, maxSize int64) (int64, error) {
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, privatePerm)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, maxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("writing temp file: %w", err)
	}
	if n > maxSize {
		return 0, ErrTooLarge
	}
	if n == 0 {
		return 0, ErrEmptyPayload
	}
	return n, nil
}
