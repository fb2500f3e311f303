package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestOfflineUUIDIsStableAndVersioned(t *testing.T) {
	id := OfflineUUID("Notch")
	require.Equal(t, uuid.Version(3), id.Version())
	require.Equal(t, uuid.RFC4122, id.Variant())
	require.Equal(t, id, OfflineUUID("Notch"), "must be deterministic")
	require.NotEqual(t, id, OfflineUUID("jeb_"))
}

func TestLoadCsv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "map.csv")
	from := uuid.New()
	to := uuid.New()
	content := "old,new\n" + from.String() + "," + to.String() + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := Load(Csv, path)
	require.NoError(t, err)
	require.Equal(t, to, m[from])
}

func TestLoadCsvSkipsMalformedRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "map.csv")
	content := "old,new\nnot-a-uuid,also-not-a-uuid\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := Load(Csv, path)
	require.NoError(t, err)
	require.Empty(t, m)
}

func TestLoadJson(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "map.json")
	from := uuid.New()
	to := uuid.New()
	content := `{"` + from.String() + `":"` + to.String() + `"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := Load(Json, path)
	require.NoError(t, err)
	require.Equal(t, to, m[from])
}

func TestLoadOfflineRenameCsv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rename.csv")
	content := "old,new\nNotch,notch2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := Load(OfflineRenameCsv, path)
	require.NoError(t, err)
	require.Equal(t, OfflineUUID("notch2"), m[OfflineUUID("Notch")])
}

func TestLoadNameListFromUsercache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usercache.json")
	content := `[{"name":"Notch","uuid":"069a79f4-44e9-4726-a5be-fca90e38aaf5","expiresOn":"2020-01-01"}]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	names, err := loadNameListFromUsercache(path)
	require.NoError(t, err)
	require.Equal(t, []string{"Notch"}, names)
}

func TestComposeInverse(t *testing.T) {
	a := map[string]uuid.UUID{"x": uuid.MustParse("11111111-1111-1111-1111-111111111111")}
	b := map[string]uuid.UUID{"x": uuid.MustParse("22222222-2222-2222-2222-222222222222")}
	got := composeInverse(a, b)
	require.Equal(t, uuid.MustParse("22222222-2222-2222-2222-222222222222"), got[uuid.MustParse("11111111-1111-1111-1111-111111111111")])
}
