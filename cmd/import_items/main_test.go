package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piazza-lending/library"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestImportMixedFiles(t *testing.T) {
	dir := t.TempDir()
	boardgames := writeFile(t, dir, "boardgames.csv", "name,minplayers,maxplayers,playingtime,learn_difficulty,categories,bgg_id\n"+
		"Catan,3,4,90,easy,Trading;Negotiation,13\n"+
		"Azul,2,4,45,,Abstract,\n"+
		"Broken,4,2,30,,,\n")
	mixed := writeFile(t, dir, "mixed.csv", "kind,name,copies,platform,author,length\n"+
		"videogame,Mario Kart 8,2,switch,,\n"+
		"book,Dune,1,,Frank Herbert,412\n"+
		"videogame,Halo,1,dreamcast,,\n"+
		"book,Catan,1,,,\n")
	db := filepath.Join(dir, "piazza.db")

	var out bytes.Buffer
	cmd := newCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--db", db, "--driver", library.DriverPureGo, "--config", filepath.Join(dir, "none.yaml"),
		"--kind", "boardgame", boardgames, mixed})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Successfully imported: 4 items")
	assert.Contains(t, out.String(), "Errors: 3")
	assert.Contains(t, out.String(), "invalid player range")
	assert.Contains(t, out.String(), `invalid platform "dreamcast"`)
	assert.Contains(t, out.String(), `an item named "Catan" already exists`)

	mgr, err := library.NewLibraryManager(library.DriverPureGo, db)
	require.NoError(t, err)
	defer mgr.Close()
	ctx := context.Background()

	catan, _, err := mgr.FindByName(ctx, "catan", "")
	require.NoError(t, err)
	view, err := mgr.GetItemView(ctx, catan.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Trading", "Negotiation"}, view.Categories)
	bg := view.Details.(library.BoardGameDetails)
	assert.Equal(t, library.DifficultyEasy, bg.LearnDifficulty)
	require.NotNil(t, bg.ExternalRef)
	assert.Equal(t, int64(13), *bg.ExternalRef)

	dune, _, err := mgr.FindByName(ctx, "dune", library.KindBook)
	require.NoError(t, err)
	book, err := mgr.GetItemView(ctx, dune.ID)
	require.NoError(t, err)
	assert.Equal(t, library.BookDetails{Author: "Frank Herbert", Pages: 412}, book.Details)

	n, err := mgr.CountItems(ctx, library.KindVideoGame)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestImportResetStartsOver(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "books.csv", "name,author\nDune,Frank Herbert\n")
	db := filepath.Join(dir, "piazza.db")
	args := []string{"--db", db, "--driver", library.DriverPureGo, "--config", filepath.Join(dir, "none.yaml"), "--kind", "book", file}

	for i := 0; i < 2; i++ {
		var out bytes.Buffer
		cmd := newCommand()
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"--reset"}, args...))
		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), "Successfully imported: 1 items")
	}
}

func TestImportNeedsNameColumn(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "bad.csv", "title,author\nDune,Frank Herbert\n")
	cmd := newCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", filepath.Join(dir, "piazza.db"), "--driver", library.DriverPureGo,
		"--config", filepath.Join(dir, "none.yaml"), "--kind", "book", file})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing name column")
}

func TestDraftFromRecordNeedsKind(t *testing.T) {
	cols, err := newColumns([]string{"\ufeffName", "Pages"})
	require.NoError(t, err)
	_, err = draftFromRecord(cols, []string{"Dune", "412"}, "")
	assert.ErrorContains(t, err, "no kind")

	d, err := draftFromRecord(cols, []string{"Dune", "412"}, library.KindBook)
	require.NoError(t, err)
	assert.Equal(t, 1, d.TotalCopies)
	assert.Equal(t, 412, d.Details.(library.BookDetails).Pages)

	_, err = draftFromRecord(cols, []string{"Dune", "many"}, library.KindBook)
	assert.ErrorContains(t, err, `"many" is not a number`)
}
