package convstore

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const fixtureJSON = `{"allComposers":[
	{"id":"c1","name":"Refactor parser","createdAt":1000,"lastUpdatedAt":5000,"isArchived":false,"isDraft":false},
	{"id":"c2","name":"  ","createdAt":1000,"lastUpdatedAt":4000,"isArchived":false,"isDraft":false},
	{"id":"c3","name":"Old work","createdAt":1000,"lastUpdatedAt":0,"isArchived":false,"isDraft":false},
	{"id":"c4","name":"Archived thing","createdAt":1000,"lastUpdatedAt":9000,"isArchived":true,"isDraft":false}
]}`

func newFixture(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.vscdb")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE ItemTable (key TEXT PRIMARY KEY, value TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO ItemTable (key, value) VALUES (?, ?)`, composerKey, fixtureJSON)
	require.NoError(t, err)

	return Open(dbPath)
}

func TestGetAllIds(t *testing.T) {
	s := newFixture(t)
	ids, err := s.GetAllIds()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"c1", "c2", "c3", "c4"}, ids)
}

func TestGetNameBlankReturnsEmpty(t *testing.T) {
	s := newFixture(t)
	name, err := s.GetName("c2")
	require.NoError(t, err)
	require.Empty(t, name)
}

func TestGetNameReturnsValue(t *testing.T) {
	s := newFixture(t)
	name, err := s.GetName("c1")
	require.NoError(t, err)
	require.Equal(t, "Refactor parser", name)
}

func TestGetAllNamesExcludesBlank(t *testing.T) {
	s := newFixture(t)
	names, err := s.GetAllNames()
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"c1": "Refactor parser",
		"c3": "Old work",
		"c4": "Archived thing",
	}, names)
}

func TestGetArchivedIds(t *testing.T) {
	s := newFixture(t)
	archived, err := s.GetArchivedIds()
	require.NoError(t, err)
	_, ok := archived["c4"]
	require.True(t, ok)
	require.Len(t, archived, 1)
}

func TestGetActiveRankedByRecencyOrdersDescendingWithNullsLast(t *testing.T) {
	s := newFixture(t)
	ranked, err := s.GetActiveRankedByRecency()
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	require.Equal(t, "c1", ranked[0].ConversationID)
	require.Equal(t, "c2", ranked[1].ConversationID)
	require.Equal(t, "c3", ranked[2].ConversationID)
	require.Equal(t, 0, ranked[0].Position)
	require.True(t, ranked[2].LastUpdatedAt.IsZero())
}

func TestLocateMatchesWorkspaceJSON(t *testing.T) {
	base := t.TempDir()
	workspaceDir := filepath.Join(base, "abc123")
	require.NoError(t, os.MkdirAll(workspaceDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(workspaceDir, "workspace.json"), []byte(`{"folder":"file:///home/me/project"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(workspaceDir, "state.vscdb"), []byte{}, 0644))

	s, err := Locate(base, "/home/me/project")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(workspaceDir, "state.vscdb"), s.dbPath)
}

func TestLocateNoMatch(t *testing.T) {
	base := t.TempDir()
	_, err := Locate(base, "/nowhere")
	require.Error(t, err)
}
