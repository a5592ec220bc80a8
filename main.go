package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"piazza-lending/bgg"
	"piazza-lending/config"
	"piazza-lending/library"
)

const defaultConfigFile = "piazza.yaml"

// env is shared by every command of one invocation. The flag fields are bound
// by the root command; the rest is filled in before a subcommand runs.
type env struct {
	configPath string
	dbPath     string
	driver     string
	logLevel   string
	user       int64

	now func() time.Time
	cfg config.Config
	log *logrus.Logger
	mgr *library.LibraryManager

	// shellUser is the acting user picked with "as" inside the shell.
	shellUser library.UserID
	// nested is set for commands run from the shell, which owns the manager.
	nested bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(&env{now: time.Now}).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", errorMessage(err))
		os.Exit(1)
	}
}

func newRootCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "piazza",
		Short:         "Shared inventory of board games, video games and books",
		Long:          "Lend items from the community shelf, join waitlists, and vote on what to get next.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return e.close()
		},
	}

	cmd.PersistentFlags().StringVar(&e.configPath, "config", defaultConfigFile, "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&e.dbPath, "db", "", "database file (overrides database.path)")
	cmd.PersistentFlags().StringVar(&e.driver, "driver", "", "sqlite3 (cgo) or sqlite (pure Go)")
	cmd.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "panic|fatal|error|warn|info|debug|trace")
	cmd.PersistentFlags().Int64VarP(&e.user, "user", "u", 0, "acting user id")

	cmd.AddCommand(newItemCommand(e))
	cmd.AddCommand(newBorrowCommand(e))
	cmd.AddCommand(newReturnCommand(e))
	cmd.AddCommand(newBorrowsCommand(e))
	cmd.AddCommand(newInterestCommand(e))
	cmd.AddCommand(newRemindersCommand(e))
	cmd.AddCommand(newSuggestCommand(e))
	cmd.AddCommand(newVoteCommand(e))
	cmd.AddCommand(newUnvoteCommand(e))
	cmd.AddCommand(newSuggestionsCommand(e))
	cmd.AddCommand(newStatsCommand(e))
	cmd.AddCommand(newShellCommand(e))

	return cmd
}

// open loads the config and opens the manager, unless a shell already did.
func (e *env) open(cmd *cobra.Command) error {
	if e.mgr != nil {
		return nil
	}

	cfg, err := config.Load(e.configPath)
	if err != nil {
		return err
	}
	if e.dbPath != "" {
		cfg.Database.Path = e.dbPath
	}
	if e.driver != "" {
		cfg.Database.Driver = e.driver
	}
	if e.logLevel != "" {
		cfg.Log.Level = e.logLevel
	}
	e.cfg = cfg

	if e.log, err = newLogger(cfg.Log, cmd.ErrOrStderr()); err != nil {
		return err
	}

	source := bgg.New(cfg.Metadata.BaseURL,
		bgg.WithTimeout(cfg.Metadata.Timeout),
		bgg.WithBatchSize(cfg.Metadata.BatchSize),
		bgg.WithMaxResults(cfg.Metadata.MaxResults),
		bgg.WithLogger(e.log.WithField("component", "bgg")),
	)

	e.mgr, err = library.NewLibraryManager(cfg.Database.Driver, cfg.Database.Path,
		library.WithLogger(e.log.WithField("component", "library")),
		library.WithClock(e.now),
		library.WithReminderWindow(cfg.Lending.ReminderWindow),
		library.WithMatchOptions(library.MatchOptions{
			Threshold:   cfg.Suggestions.SimilarityThreshold,
			Limit:       cfg.Suggestions.MaxAlternatives,
			ScopeToType: cfg.Suggestions.ScopeToType,
		}),
		library.WithMetadataSource(source),
	)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	e.log.WithFields(logrus.Fields{"db": cfg.Database.Path, "driver": cfg.Database.Driver}).Debug("database opened")
	return nil
}

func (e *env) close() error {
	if e.nested || e.mgr == nil {
		return nil
	}
	err := e.mgr.Close()
	e.mgr = nil
	return err
}

func newLogger(c config.Log, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	if c.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
	return log, nil
}

// actor is the user the command acts for.
func (e *env) actor() (library.UserID, error) {
	switch {
	case e.user > 0:
		return library.UserID(e.user), nil
	case e.shellUser > 0:
		return e.shellUser, nil
	}
	return 0, fmt.Errorf("no acting user, pass --user <id>")
}

// errorMessage is what the user sees for err. Rule violations carry their
// own message; anything else is a usage or setup problem and is shown as is.
func errorMessage(err error) string {
	if library.KindOf(err) != "" {
		return library.UserMessage(err)
	}
	return err.Error()
}

// resolveItem accepts an item id or a (partial) name.
func (e *env) resolveItem(ctx context.Context, arg string, kind library.Kind) (*library.Item, error) {
	arg = strings.TrimSpace(arg)
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return e.mgr.GetItem(ctx, id)
	}
	item, many, err := e.mgr.FindByName(ctx, arg, kind)
	if err != nil {
		return nil, err
	}
	if item != nil {
		return item, nil
	}
	names := make([]string, 0, len(many))
	for _, it := range many {
		names = append(names, fmt.Sprintf("%s (id %d)", it.Name, it.ID))
	}
	return nil, fmt.Errorf("%d items match %q, pick one by id: %s", len(many), arg, strings.Join(names, ", "))
}

// deliver prints notices as if they were direct messages.
func (e *env) deliver(cmd *cobra.Command, notices []library.Notice) {
	if len(notices) == 0 {
		return
	}
	report := e.mgr.Deliver(cmd.Context(), noticePrinter(cmd.OutOrStdout()), notices)
	for _, f := range report.Failed {
		fmt.Fprintf(cmd.ErrOrStderr(), "could not notify %s\n", userLabel(f.Notice.Recipient))
	}
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid %s: %s", what, s)
	}
	return id, nil
}
