// Package convstore is a read-only adapter over the IDE's workspace-storage
// SQLite file, following the teacher's store/db/sqlite access idiom
// (mattn/go-sqlite3 opened read-only, queries wrapped with pkg/errors) but
// reading a single key instead of owning a schema.
package convstore

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/ricochet-labs/cursor-discord-bridge/internal/model"
)

const composerKey = "composer.composerData"

// composer is one entry of the allComposers array (spec §4.2).
type composer struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CreatedAt     int64  `json:"createdAt"`
	LastUpdatedAt int64  `json:"lastUpdatedAt"`
	UnifiedMode   string `json:"unifiedMode"`
	IsArchived    bool   `json:"isArchived"`
	IsDraft       bool   `json:"isDraft"`
}

type composerData struct {
	AllComposers []composer `json:"allComposers"`
}

// workspaceMeta mirrors the workspace.json sidecar file next to state.vscdb.
type workspaceMeta struct {
	Folder string `json:"folder"`
}

// Store reads conversations from one IDE workspace-storage directory.
type Store struct {
	dbPath string
}

// Locate scans ideStorageBase for the workspaceStorage/<hash> subdirectory
// whose workspace.json names workspaceRoot, and returns a Store bound to its
// state.vscdb. Grounded on the teacher's internal/paths.go hashing idiom,
// though here the hash is only a candidate to confirm, not computed directly,
// since the IDE's hashing algorithm is not ours to reproduce.
func Locate(ideStorageBase, workspaceRoot string) (*Store, error) {
	entries, err := os.ReadDir(ideStorageBase)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", ideStorageBase)
	}

	want := workspaceRoot
	if abs, err := filepath.Abs(workspaceRoot); err == nil {
		want = abs
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(ideStorageBase, entry.Name())
		metaPath := filepath.Join(dir, "workspace.json")
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var meta workspaceMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		folder := strings.TrimPrefix(meta.Folder, "file://")
		if folder == want || folder == workspaceRoot {
			return &Store{dbPath: filepath.Join(dir, "state.vscdb")}, nil
		}
	}

	return nil, errors.Errorf("no workspaceStorage entry matches %s", workspaceRoot)
}

// Open binds a Store directly to a state.vscdb path, bypassing Locate. Tests
// and the doctor subcommand use this to point at a known fixture.
func Open(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Path returns the state.vscdb path this Store reads from, for callers (the
// Name Sync Watcher, `doctor`) that need to watch or report on the file
// itself rather than query it.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) readComposerData() (*composerData, error) {
	dsn := "file:" + s.dbPath + "?mode=ro&_busy_timeout=2000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open state.vscdb")
	}
	defer db.Close()

	var raw string
	row := db.QueryRow(`SELECT value FROM ItemTable WHERE key = ?`, composerKey)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &composerData{}, nil
		}
		if isLocked(err) {
			return nil, errors.Wrap(err, "database is locked")
		}
		return nil, errors.Wrap(err, "query composer.composerData")
	}

	var data composerData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, errors.Wrap(err, "decode composer.composerData")
	}
	return &data, nil
}

func isLocked(err error) bool {
	return strings.Contains(err.Error(), "database is locked")
}

// GetAllIds returns every conversation id, archived or not (spec §4.2).
func (s *Store) GetAllIds() ([]string, error) {
	data, err := s.readComposerData()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(data.AllComposers))
	for _, c := range data.AllComposers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// GetName returns id's conversation name, or "" if empty or whitespace-only.
func (s *Store) GetName(id string) (string, error) {
	data, err := s.readComposerData()
	if err != nil {
		return "", err
	}
	for _, c := range data.AllComposers {
		if c.ID == id {
			if strings.TrimSpace(c.Name) == "" {
				return "", nil
			}
			return c.Name, nil
		}
	}
	return "", nil
}

// GetAllNames returns id->name for every conversation with a non-empty name.
func (s *Store) GetAllNames() (map[string]string, error) {
	data, err := s.readComposerData()
	if err != nil {
		return nil, err
	}
	names := make(map[string]string)
	for _, c := range data.AllComposers {
		if strings.TrimSpace(c.Name) != "" {
			names[c.ID] = c.Name
		}
	}
	return names, nil
}

// GetArchivedIds returns the set of currently archived conversation ids.
func (s *Store) GetArchivedIds() (map[string]struct{}, error) {
	data, err := s.readComposerData()
	if err != nil {
		return nil, err
	}
	archived := make(map[string]struct{})
	for _, c := range data.AllComposers {
		if c.IsArchived {
			archived[c.ID] = struct{}{}
		}
	}
	return archived, nil
}

// GetActiveRankedByRecency returns non-archived conversations ordered by
// descending lastUpdatedAt, with zero-valued timestamps ranked last (spec
// §4.2). Position is 0-based.
func (s *Store) GetActiveRankedByRecency() ([]model.RankedConversation, error) {
	data, err := s.readComposerData()
	if err != nil {
		return nil, err
	}

	active := make([]composer, 0, len(data.AllComposers))
	for _, c := range data.AllComposers {
		if !c.IsArchived {
			active = append(active, c)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		ti, tj := active[i].LastUpdatedAt, active[j].LastUpdatedAt
		if ti == 0 && tj == 0 {
			return false
		}
		if ti == 0 {
			return false
		}
		if tj == 0 {
			return true
		}
		return ti > tj
	})

	ranked := make([]model.RankedConversation, len(active))
	for i, c := range active {
		var last time.Time
		if c.LastUpdatedAt > 0 {
			last = time.UnixMilli(c.LastUpdatedAt)
		}
		ranked[i] = model.RankedConversation{
			ConversationID: c.ID,
			LastUpdatedAt:  last,
			Position:       i,
		}
	}
	return ranked, nil
}
