// Package reliability implements ledger archival: periodic off-host
// backup of the sealed ledger database to S3-compatible object storage,
// so the append-only audit trail survives a lost or corrupted local
// disk (spec §6's persistence layout names per-segment durability; this
// is the off-host half of that guarantee). Grounded on the teacher's
// internal/reliability R2 backup service (checksum-then-upload,
// timestamped object names, retention-based rotation keeping a minimum
// count regardless of age) and the teacher's internal/database for the
// WAL checkpoint that makes a consistent snapshot safe to copy. The
// teacher's R2Client/BackupService/internal/version collaborators were
// not present in the retrieved pack (only their call sites were); this
// rebuilds the same shape directly against aws-sdk-go-v2's S3 client,
// already one of the teacher's wired dependencies.
package reliability

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/database"
)

// ObjectInfo describes one archived ledger snapshot in object storage.
type ObjectInfo struct {
	Key          string
	SizeBytes    int64
	LastModified time.Time
}

// ObjectStore is the narrow slice of S3 this package needs, so tests can
// substitute a fake without standing up a bucket. S3Store (s3client.go)
// is the production implementation over aws-sdk-go-v2.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Service periodically snapshots the ledger database and uploads it to
// object storage, checksummed and timestamped, with retention-based
// rotation.
type Service struct {
	db     *database.DB
	store  ObjectStore
	prefix string
	log    zerolog.Logger
}

// New constructs an archival Service for db's current file, uploading
// under prefix (e.g. "ledger-archive/").
func New(db *database.DB, store ObjectStore, prefix string, log zerolog.Logger) *Service {
	return &Service{
		db:     db,
		store:  store,
		prefix: strings.TrimSuffix(prefix, "/"),
		log:    log.With().Str("component", "ledger_archival").Logger(),
	}
}

// ArchiveNow checkpoints the WAL so the on-disk file is self-contained,
// then uploads a timestamped, checksummed copy of the ledger database.
func (s *Service) ArchiveNow(ctx context.Context) error {
	if err := s.db.WALCheckpoint("TRUNCATE"); err != nil {
		return fmt.Errorf("reliability: checkpoint before archive: %w", err)
	}

	f, err := os.Open(s.db.Path())
	if err != nil {
		return fmt.Errorf("reliability: open ledger file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("reliability: stat ledger file: %w", err)
	}

	checksum, err := checksumFile(s.db.Path())
	if err != nil {
		return fmt.Errorf("reliability: checksum ledger file: %w", err)
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("%s/ledger-%s-%09d.db", s.prefix, now.Format("2006-01-02-150405"), now.Nanosecond())
	if err := s.store.Put(ctx, key, f, info.Size()); err != nil {
		return fmt.Errorf("reliability: upload %s: %w", key, err)
	}

	s.log.Info().
		Str("key", key).
		Int64("size_bytes", info.Size()).
		Str("checksum", checksum).
		Msg("ledger archived")
	return nil
}

// ListArchives returns every archived snapshot under this service's
// prefix, newest first.
func (s *Service) ListArchives(ctx context.Context) ([]ObjectInfo, error) {
	objs, err := s.store.List(ctx, s.prefix+"/ledger-")
	if err != nil {
		return nil, fmt.Errorf("reliability: list archives: %w", err)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].LastModified.After(objs[j].LastModified) })
	return objs, nil
}

// minArchivesToKeep is the floor below which RotateOldArchives never
// deletes, regardless of retentionDays — losing the only remaining
// off-host copy is worse than keeping one stale one.
const minArchivesToKeep = 3

// RotateOldArchives deletes archives older than retentionDays, always
// keeping at least minArchivesToKeep regardless of age. retentionDays
// of 0 means keep everything beyond the minimum.
func (s *Service) RotateOldArchives(ctx context.Context, retentionDays int) error {
	archives, err := s.ListArchives(ctx)
	if err != nil {
		return err
	}
	if len(archives) <= minArchivesToKeep {
		return nil
	}

	var cutoff time.Time
	if retentionDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -retentionDays)
	}

	deleted := 0
	for i, obj := range archives {
		if i < minArchivesToKeep || retentionDays == 0 {
			continue
		}
		if obj.LastModified.Before(cutoff) {
			if err := s.store.Delete(ctx, obj.Key); err != nil {
				s.log.Warn().Err(err).Str("key", obj.Key).Msg("failed to delete old archive")
				continue
			}
			deleted++
		}
	}

	s.log.Info().Int("deleted", deleted).Int("remaining", len(archives)-deleted).Msg("ledger archive rotation complete")
	return nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}
