package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.Local)

type harness struct {
	t   *testing.T
	dir string
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, dir: t.TempDir()}
}

func (h *harness) writeConfig(body string) {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(filepath.Join(h.dir, "piazza.yaml"), []byte(body), 0o644))
}

// run executes one command line against the harness database.
func (h *harness) run(stdin io.Reader, args ...string) (string, error) {
	h.t.Helper()
	e := &env{now: func() time.Time { return testNow }}
	cmd := newRootCommand(e)
	var out, logs bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(append(args,
		"--config", filepath.Join(h.dir, "piazza.yaml"),
		"--db", filepath.Join(h.dir, "piazza.db"),
		"--driver", "sqlite",
	))
	err := cmd.Execute()
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(nil, args...)
	require.NoError(h.t, err, out)
	return out
}

func TestBorrowReturnNotifiesWaitlist(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("item", "add-boardgame", "Catan", "--copies", "1", "--min", "3", "--max", "4")
	assert.Contains(t, out, `Added boardgame "Catan" with ID 0 (1 copies)`)

	out = h.mustRun("borrow", "catan", "--user", "1", "--return-date", "2026-10-20")
	assert.Contains(t, out, `user 1 borrowed "Catan", 0 copies left`)
	assert.Contains(t, out, "Please bring it back by 2026-10-20")

	_, err := h.run(nil, "borrow", "Catan", "--user", "2")
	require.Error(t, err)
	assert.Contains(t, errorMessage(err), "no copies")

	out = h.mustRun("interest", "declare", "0", "--user", "2")
	assert.Contains(t, out, `user 2 is now waiting for "Catan"`)

	out = h.mustRun("return", "Catan", "--user", "1")
	assert.Contains(t, out, `user 1 returned "Catan", 1 copies available`)
	assert.Contains(t, out, `-> user 2: "Catan" was returned`)

	out = h.mustRun("borrows", "--all")
	assert.Contains(t, out, "2026-10-20")
	assert.Contains(t, out, "Showing 1 of 1 loans")
}

func TestCommandsNeedActingUser(t *testing.T) {
	h := newHarness(t)
	h.mustRun("item", "add-book", "Dune", "--author", "Frank Herbert")
	_, err := h.run(nil, "borrow", "Dune")
	require.Error(t, err)
	assert.Contains(t, errorMessage(err), "--user")
}

func TestBorrowRejectsMalformedDate(t *testing.T) {
	h := newHarness(t)
	h.mustRun("item", "add-book", "Dune")
	_, err := h.run(nil, "borrow", "Dune", "--user", "1", "--return-date", "20/10/2026")
	require.Error(t, err)
	assert.Contains(t, errorMessage(err), "expected format 2006-01-02")
}

func TestItemLookupByName(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"Go", "Go Fish", "Gloomhaven"} {
		h.mustRun("item", "add-boardgame", name, "--min", "2", "--max", "4")
	}

	out := h.mustRun("item", "show", "go")
	assert.Contains(t, out, "Go (ID 0, boardgame)")
	assert.Contains(t, out, "Players:     2-4")

	_, err := h.run(nil, "item", "show", "g")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 items match")

	_, err = h.run(nil, "item", "show", "chess")
	require.Error(t, err)
	assert.Contains(t, errorMessage(err), "chess")
}

func TestSearchReportsIgnoredTokens(t *testing.T) {
	h := newHarness(t)
	h.mustRun("item", "add-boardgame", "Catan", "--min", "3", "--max", "4")
	h.mustRun("item", "add-boardgame", "Azul", "--min", "2", "--max", "4")

	out := h.mustRun("item", "search", "--and", "min<=2, flavour==sweet", "--sort-name")
	assert.Contains(t, out, `ignored filter "flavour==sweet"`)
	assert.Contains(t, out, "Azul")
	assert.NotContains(t, out, "Catan")

	out = h.mustRun("item", "list", "--limit", "1")
	assert.Contains(t, out, "Showing 1 of 2 items")
}

func TestSuggestConfirmAndVote(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("suggest", "Catan", "--user", "1")
	assert.Contains(t, out, "Suggested [BOARD] Catan")

	out = h.mustRun("suggest", "Catann", "--user", "2")
	assert.Contains(t, out, "looks like an existing suggestion")
	assert.Contains(t, out, "[BOARD] Catan (")

	out = h.mustRun("vote", "[BOARD] Catan", "--user", "2")
	assert.Contains(t, out, "Voted for [BOARD] Catan (2 votes)")

	out = h.mustRun("vote", "catn", "--user", "3")
	assert.Contains(t, out, "Did you mean")

	out = h.mustRun("suggestions", "list")
	assert.Contains(t, out, "[BOARD] Catan")
	assert.NotContains(t, out, "Catann")

	out = h.mustRun("suggestions", "status", "[BOARD] Catan", "accepted")
	assert.Contains(t, out, "is now ACCEPTED")
}

func TestRemindersSendOnce(t *testing.T) {
	h := newHarness(t)
	h.mustRun("item", "add-videogame", "Mario Kart", "--platform", "switch", "--copies", "2")
	h.mustRun("borrow", "Mario Kart", "--user", "4", "--return-date", "2026-10-16")

	out := h.mustRun("reminders")
	assert.Contains(t, out, "Mario Kart")

	out = h.mustRun("reminders", "--send")
	assert.Contains(t, out, `-> user 4: reminder: "Mario Kart" is due back on 2026-10-16`)
	assert.Contains(t, out, "Sent 1 reminders, 0 failed")

	out = h.mustRun("reminders")
	assert.Contains(t, out, "No reminders due")

	out = h.mustRun("stats", "due")
	assert.Contains(t, out, "Mario Kart")

	out = h.mustRun("stats", "users")
	assert.Contains(t, out, "4 ")
}

const bggSearch = `<items total="1"><item type="boardgame" id="13"><name type="primary" value="CATAN"/></item></items>`

const bggThing = `<items><item type="boardgame" id="13">
  <name type="primary" value="CATAN"/>
  <description>Trade and build</description>
  <minplayers value="3"/><maxplayers value="4"/><playingtime value="120"/>
  <statistics><ratings><average value="7.1"/><bayesaverage value="6.9"/>
  <ranks><rank type="subtype" name="boardgame" value="518"/></ranks></ratings></statistics>
</item></items>`

func TestImportFromBoardGameGeek(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			fmt.Fprint(w, bggSearch)
		case "/thing":
			fmt.Fprint(w, bggThing)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := newHarness(t)
	h.writeConfig(fmt.Sprintf("metadata:\n  base_url: %s\n  timeout: 2s\n", srv.URL))

	out := h.mustRun("item", "import-bgg", "catan")
	assert.Contains(t, out, "13")
	assert.Contains(t, out, "CATAN")

	out = h.mustRun("item", "import-bgg", "13", "--copies", "2", "--name", "Catan")
	assert.Contains(t, out, `Added board game "Catan" with ID 0 (2 copies)`)
	assert.NotContains(t, out, "unreachable")

	out = h.mustRun("item", "show", "0")
	assert.Contains(t, out, "BGG rank:    518")
}

func TestImportFallsBackWhenCatalogIsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := newHarness(t)
	h.writeConfig(fmt.Sprintf("metadata:\n  base_url: %s\n", srv.URL))

	_, err := h.run(nil, "item", "import-bgg", "13")
	require.Error(t, err)
	assert.Contains(t, errorMessage(err), "retry later")

	out := h.mustRun("item", "import-bgg", "13", "--name", "Catan")
	assert.Contains(t, out, "unreachable")
}

func TestShellSession(t *testing.T) {
	h := newHarness(t)
	script := strings.Join([]string{
		"whoami",
		"as 3",
		`item add-book "The Left Hand of Darkness" --author "Ursula K. Le Guin"`,
		"borrow left hand",
		"borrow nothing-here",
		"# comments are skipped",
		"frobnicate",
		"exit",
		"whoami",
	}, "\n")

	out, err := h.run(strings.NewReader(script), "shell")
	require.NoError(t, err)
	assert.Contains(t, out, "No acting user")
	assert.Contains(t, out, "Acting as user 3")
	assert.Contains(t, out, `Added book "The Left Hand of Darkness"`)
	assert.Contains(t, out, `user 3 borrowed "The Left Hand of Darkness"`)
	assert.Contains(t, out, `Error: no item matches "nothing-here"`)
	assert.Contains(t, out, `Error: unknown command "frobnicate"`)
	assert.True(t, strings.HasSuffix(out, "Goodbye!\n"), out)
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"borrow Catan", []string{"borrow", "Catan"}},
		{`suggest "Ticket to Ride" -t board`, []string{"suggest", "Ticket to Ride", "-t", "board"}},
		{`item search --and 'min<=2, max>=4'`, []string{"item", "search", "--and", "min<=2, max>=4"}},
		{"  spaced \t out  ", []string{"spaced", "out"}},
		{`empty ""`, []string{"empty", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := splitArgs(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := splitArgs(`borrow "Catan`)
	assert.Error(t, err)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "Catan", truncateString("Catan", 10))
	assert.Equal(t, "Twilig...", truncateString("Twilight Imperium", 9))
	assert.Equal(t, "Ça va", truncateString("Ça va", 5))
	assert.Equal(t, "ab", truncateString("abcdef", 2))
}
