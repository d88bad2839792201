package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametov/tradewind/internal/database"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Upload(_ context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStore) List(_ context.Context, prefix string) ([]StoredObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var objects []StoredObject
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, StoredObject{Key: key, SizeBytes: int64(len(data))})
		}
	}
	return objects, nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	return keys
}

func openReliabilityTestDB(t *testing.T, dir, name string, profile database.DatabaseProfile) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate())
	return db
}

func extractArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	files := map[string][]byte{}
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[header.Name] = content
	}
	return files
}

func TestBackupUploadsRestorableArchive(t *testing.T) {
	nopLog := zerolog.New(nil).Level(zerolog.Disabled)
	dir := t.TempDir()

	ledger := openReliabilityTestDB(t, dir, "ledger", database.ProfileLedger)
	agents := openReliabilityTestDB(t, dir, "agents", database.ProfileStandard)

	_, err := ledger.Exec(`
		INSERT INTO orders (order_id, user_id, symbol, side, amount, status, created_at)
		VALUES ('ord-backup', 'user-1', 'BTC/USDT', 'buy', 0.5, 'filled', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)

	store := newFakeStore()
	service := NewBackupService(map[string]*database.DB{
		"ledger": ledger,
		"agents": agents,
	}, store, 14, nopLog)

	key, err := service.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, backupPrefix))

	store.mu.Lock()
	archive, ok := store.objects[key]
	store.mu.Unlock()
	require.True(t, ok, "archive missing from store")

	files := extractArchive(t, archive)
	require.Contains(t, files, "ledger.db")
	require.Contains(t, files, "agents.db")
	require.Contains(t, files, metadataFilename)

	var meta BackupMetadata
	require.NoError(t, json.Unmarshal(files[metadataFilename], &meta))
	assert.Equal(t, 1, meta.Format)
	assert.False(t, meta.Timestamp.IsZero())
	require.Len(t, meta.Databases, 2)

	for _, dbMeta := range meta.Databases {
		content, ok := files[dbMeta.Filename]
		require.True(t, ok, "metadata names a file the archive lacks")
		assert.Equal(t, int64(len(content)), dbMeta.SizeBytes)

		sum := sha256.Sum256(content)
		assert.Equal(t, fmt.Sprintf("sha256:%x", sum), dbMeta.Checksum)
	}

	// The archived ledger must open cleanly and still hold the order.
	restoredPath := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(restoredPath, files["ledger.db"], 0644))

	restored, err := sql.Open("sqlite", restoredPath)
	require.NoError(t, err)
	defer restored.Close()

	var integrity string
	require.NoError(t, restored.QueryRow("PRAGMA integrity_check").Scan(&integrity))
	assert.Equal(t, "ok", integrity)

	var count int
	require.NoError(t, restored.QueryRow("SELECT COUNT(*) FROM orders WHERE order_id = 'ord-backup'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestListBackupsOrdersNewestFirstAndSkipsStrays(t *testing.T) {
	nopLog := zerolog.New(nil).Level(zerolog.Disabled)

	store := newFakeStore()
	store.objects[backupPrefix+"2026-01-03-000000.tar.gz"] = []byte("c")
	store.objects[backupPrefix+"2026-01-01-000000.tar.gz"] = []byte("a")
	store.objects[backupPrefix+"2026-01-02-000000.tar.gz"] = []byte("b")
	store.objects[backupPrefix+"not-a-timestamp.tar.gz"] = []byte("x")

	service := NewBackupService(nil, store, 14, nopLog)

	backups, err := service.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 3)

	assert.Equal(t, backupPrefix+"2026-01-03-000000.tar.gz", backups[0].Key)
	assert.Equal(t, backupPrefix+"2026-01-02-000000.tar.gz", backups[1].Key)
	assert.Equal(t, backupPrefix+"2026-01-01-000000.tar.gz", backups[2].Key)
}

func TestRotateKeepsNewestArchives(t *testing.T) {
	nopLog := zerolog.New(nil).Level(zerolog.Disabled)

	store := newFakeStore()
	for day := 1; day <= 5; day++ {
		store.objects[fmt.Sprintf("%s2026-01-%02d-000000.tar.gz", backupPrefix, day)] = []byte("archive")
	}

	service := NewBackupService(nil, store, 3, nopLog)
	require.NoError(t, service.RotateOldBackups(context.Background()))

	keys := store.keys()
	assert.Len(t, keys, 3)
	assert.NotContains(t, keys, backupPrefix+"2026-01-01-000000.tar.gz")
	assert.NotContains(t, keys, backupPrefix+"2026-01-02-000000.tar.gz")
	assert.Contains(t, keys, backupPrefix+"2026-01-05-000000.tar.gz")
}

func TestRotateWithoutRetentionKeepsEverything(t *testing.T) {
	nopLog := zerolog.New(nil).Level(zerolog.Disabled)

	store := newFakeStore()
	for day := 1; day <= 5; day++ {
		store.objects[fmt.Sprintf("%s2026-01-%02d-000000.tar.gz", backupPrefix, day)] = []byte("archive")
	}

	service := NewBackupService(nil, store, 0, nopLog)
	require.NoError(t, service.RotateOldBackups(context.Background()))

	assert.Len(t, store.keys(), 5)
	assert.Empty(t, store.deleted)
}

func TestBackupJobUploadsAndRotates(t *testing.T) {
	nopLog := zerolog.New(nil).Level(zerolog.Disabled)
	dir := t.TempDir()

	ledger := openReliabilityTestDB(t, dir, "ledger", database.ProfileLedger)

	store := newFakeStore()
	store.objects[backupPrefix+"2026-01-01-000000.tar.gz"] = []byte("ancient")

	service := NewBackupService(map[string]*database.DB{"ledger": ledger}, store, 1, nopLog)
	job := NewBackupJob(service, nopLog)

	assert.Equal(t, "ledger_backup", job.Name())
	require.NoError(t, job.Run())

	keys := store.keys()
	require.Len(t, keys, 1)
	assert.NotEqual(t, backupPrefix+"2026-01-01-000000.tar.gz", keys[0])
	assert.Contains(t, store.deleted, backupPrefix+"2026-01-01-000000.tar.gz")
}

func TestMaintenanceJobRunsClean(t *testing.T) {
	nopLog := zerolog.New(nil).Level(zerolog.Disabled)
	dir := t.TempDir()

	databases := map[string]*database.DB{
		"ledger": openReliabilityTestDB(t, dir, "ledger", database.ProfileLedger),
		"agents": openReliabilityTestDB(t, dir, "agents", database.ProfileStandard),
		"cache":  openReliabilityTestDB(t, dir, "cache", database.ProfileCache),
	}

	job := NewMaintenanceJob(databases, dir, nopLog)

	assert.Equal(t, "daily_maintenance", job.Name())
	assert.NoError(t, job.Run())
}
