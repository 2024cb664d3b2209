package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
)

const (
	jobsDirName  = "jobs"
	linksDirName = "links"
	lockFileName = ".lock"
)

// fileStore implements JobStore and LinkStore on the local filesystem.
// One JSON file per job under jobs/<site>/<kind>.json and one per site
// under links/<site>.json. A file lock serializes access across
// processes sharing the same base path.
type fileStore struct {
	basePath string
	lock     *flock.Flock
}

// NewFileStore creates a file-backed store rooted at basePath.
func NewFileStore(basePath string) (*fileStore, error) { //nolint:revive // unexported-return is intentional
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &fileStore{
		basePath: basePath,
		lock:     flock.New(filepath.Join(basePath, lockFileName)),
	}, nil
}

func (f *fileStore) jobPath(key JobKey) string {
	return filepath.Join(f.basePath, jobsDirName, key.SiteID, string(key.Kind)+".json")
}

func (f *fileStore) linksPath(siteID string) string {
	return filepath.Join(f.basePath, linksDirName, siteID+".json")
}

func (f *fileStore) GetJob(_ context.Context, key JobKey) (*Job, error) {
	if err := f.lock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to acquire store lock: %w", err)
	}
	defer f.lock.Unlock() //nolint:errcheck

	data, err := os.ReadFile(f.jobPath(key)) // #nosec G304 -- path built from validated key parts
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job for %s/%s: %w", key.SiteID, key.Kind, err)
	}
	return &job, nil
}

func (f *fileStore) SaveJob(_ context.Context, key JobKey, job *Job) error {
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire store lock: %w", err)
	}
	defer f.lock.Unlock() //nolint:errcheck

	return writeJSONAtomic(f.jobPath(key), job)
}

func (f *fileStore) DeleteJob(_ context.Context, key JobKey) error {
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire store lock: %w", err)
	}
	defer f.lock.Unlock() //nolint:errcheck

	if err := os.Remove(f.jobPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete job file: %w", err)
	}
	return nil
}

func (f *fileStore) GetLink(_ context.Context, siteID string, localID int64) (int64, bool, error) {
	if err := f.lock.RLock(); err != nil {
		return 0, false, fmt.Errorf("failed to acquire store lock: %w", err)
	}
	defer f.lock.Unlock() //nolint:errcheck

	links, err := f.readLinks(siteID)
	if err != nil {
		return 0, false, err
	}
	remoteID, ok := links[strconv.FormatInt(localID, 10)]
	return remoteID, ok, nil
}

func (f *fileStore) SaveLink(_ context.Context, siteID string, localID, remoteID int64) error {
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire store lock: %w", err)
	}
	defer f.lock.Unlock() //nolint:errcheck

	links, err := f.readLinks(siteID)
	if err != nil {
		return err
	}
	links[strconv.FormatInt(localID, 10)] = remoteID
	return writeJSONAtomic(f.linksPath(siteID), links)
}

// readLinks loads the link map for a site, returning an empty map when
// the file does not exist yet. Callers must hold the lock.
func (f *fileStore) readLinks(siteID string) (map[string]int64, error) {
	data, err := os.ReadFile(f.linksPath(siteID)) // #nosec G304 -- path built from validated site id
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]int64), nil
		}
		return nil, fmt.Errorf("failed to read links file: %w", err)
	}

	links := make(map[string]int64)
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, fmt.Errorf("failed to unmarshal links for site %s: %w", siteID, err)
	}
	return links, nil
}

// writeJSONAtomic marshals v and writes it via a temporary file and
// rename so readers never observe a partial write.
func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", tempPath, err)
	}
	return nil
}
