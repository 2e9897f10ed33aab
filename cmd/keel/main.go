// cmd/keel/main.go
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"keel/internal/api"
	"keel/internal/graph"
	"keel/internal/logging"
	"keel/internal/middleware"
	"keel/internal/mutate"
	"keel/internal/query"
	"keel/internal/session"
	"keel/internal/store"
	"keel/shared/messages"

	"github.com/dgraph-io/badger/v4"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var repoPath string

var rootCmd = &cobra.Command{
	Use:   "keel",
	Short: "Keel is a graph-native version control engine",
	Long: `Keel is a version control engine built around immutable commits and
first-class history rewriting. Every mutation is transactional and
undoable, and the log is a paginated graph rather than a flat list.`,
}

func openWorkspace() (*session.Workspace, *badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(repoPath).WithLogger(nil))
	if err != nil {
		return nil, nil, fmt.Errorf("opening repository at %s: %w", repoPath, err)
	}
	s, err := store.Open(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	logger, err := logging.NewLogger("error")
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	ws, err := session.NewWorkspace(s, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return ws, db, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", ".keel", "repository database path")

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize a new keel repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(repoPath); err == nil {
				return fmt.Errorf("repository already exists at %s", repoPath)
			}
			_, db, err := openWorkspace()
			if err != nil {
				return err
			}
			defer db.Close()

			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
			fmt.Println("Initialized empty keel repository in", dir)
			return nil
		},
	}

	var pageSize int
	var maxPages int
	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show the revision graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, db, err := openWorkspace()
			if err != nil {
				return err
			}
			defer db.Close()

			wc := ws.Store().View().WorkingCopy
			sess, err := ws.NewLogSession(graph.NewState(pageSize))
			if err != nil {
				return err
			}

			for page := 0; maxPages <= 0 || page < maxPages; page++ {
				p, err := sess.GetPage()
				if err != nil {
					return err
				}
				for _, row := range p.Rows {
					printLogRow(row, wc)
				}
				if !p.HasMore {
					break
				}
			}
			return nil
		},
	}
	logCmd.Flags().IntVar(&pageSize, "page-size", 100, "rows per layout page")
	logCmd.Flags().IntVar(&maxPages, "pages", 0, "maximum pages to print (0 for all)")

	var contextLines int
	var showCmd = &cobra.Command{
		Use:   "show [revision]",
		Short: "Show a revision's changes against its parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, db, err := openWorkspace()
			if err != nil {
				return err
			}
			defer db.Close()

			result, err := query.Revision(ws, args[0], contextLines)
			if err != nil {
				return err
			}
			detail, ok := result.(messages.RevDetail)
			if !ok {
				return fmt.Errorf("revision not found: %s", args[0])
			}
			printRevDetail(detail)
			return nil
		},
	}
	showCmd.Flags().IntVar(&contextLines, "context", 3, "context lines around each hunk")

	var describeCmd = &cobra.Command{
		Use:   "describe [revision] [message]",
		Short: "Set a revision's description",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, db, err := openWorkspace()
			if err != nil {
				return err
			}
			defer db.Close()

			result, err := mutate.DescribeRevision{ID: args[0], NewDescription: args[1]}.Execute(ws)
			if err != nil {
				return err
			}
			return printMutationResult(result)
		},
	}

	var host string
	var port int
	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger("info")
			if err != nil {
				return err
			}
			defer logger.Sync()

			ws, db, err := openWorkspace()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := ws.Watch(repoPath); err != nil {
				logger.Warn("repository watcher unavailable", zap.Error(err))
			}
			defer ws.Close()

			mux := http.NewServeMux()
			api.NewHandler(ws, api.Options{}).Register(mux)

			handler := middleware.Chain(
				mux,
				middleware.RequestID,
				middleware.Logger(logger),
				middleware.Recover(logger),
			)

			addr := fmt.Sprintf("%s:%d", host, port)
			logger.Info("starting server", zap.String("address", addr))
			return http.ListenAndServe(addr, handler)
		},
	}
	serveCmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen host")
	serveCmd.Flags().IntVar(&port, "port", 8572, "listen port")

	rootCmd.AddCommand(initCmd, logCmd, showCmd, describeCmd, serveCmd)
}

func printLogRow(row messages.LogRow, workingCopy store.CommitID) {
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	magenta := color.New(color.FgMagenta).SprintFunc()

	glyph := "o"
	if row.Revision.CommitID == string(workingCopy) {
		glyph = "@"
	} else if row.Revision.IsImmutable {
		glyph = "*"
	}

	var refs []string
	for _, ref := range row.Revision.Refs {
		switch r := ref.(type) {
		case messages.Tag:
			refs = append(refs, magenta(r.TagName))
		case messages.LocalBookmark:
			refs = append(refs, cyan(r.BranchName))
		case messages.RemoteBookmark:
			refs = append(refs, cyan(r.BranchName+"@"+r.RemoteName))
		}
	}

	description := row.Revision.Description
	if i := strings.IndexByte(description, '\n'); i >= 0 {
		description = description[:i]
	}
	if description == "" {
		description = "(no description set)"
	}

	indent := strings.Repeat("  ", row.Location.Column)
	line := fmt.Sprintf("%s%s %s %s", indent, glyph, yellow(row.Revision.ShortID), description)
	if len(refs) > 0 {
		line += " [" + strings.Join(refs, " ") + "]"
	}
	if row.Revision.HasConflict {
		line += " " + color.New(color.FgRed).Sprint("(conflict)")
	}
	fmt.Println(line)
}

func printRevDetail(detail messages.RevDetail) {
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("commit %s\n", yellow(detail.Header.CommitID))
	for _, parent := range detail.Parents {
		fmt.Printf("parent %s\n", parent.ShortID)
	}
	if detail.Header.Description != "" {
		fmt.Println()
		fmt.Println("    " + strings.ReplaceAll(detail.Header.Description, "\n", "\n    "))
	}

	for _, change := range detail.Changes {
		fmt.Println()
		header := color.New(color.FgCyan)
		header.Printf("%s %s\n", change.Kind, change.Path)
		for _, hunk := range change.Hunks {
			header.Printf("@@ -%d,%d +%d,%d @@\n",
				hunk.Location.FromFile.Start, hunk.Location.FromFile.Len,
				hunk.Location.ToFile.Start, hunk.Location.ToFile.Len)
			printHunkLines(hunk.Lines)
		}
	}

	for _, conflict := range detail.Conflicts {
		fmt.Println()
		color.New(color.FgRed).Printf("conflict in %s\n", conflict.Path)
		printHunkLines(conflict.Hunk.Lines)
	}
}

func printHunkLines(lines []string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

func printMutationResult(result messages.MutationResult) error {
	switch res := result.(type) {
	case messages.Updated:
		fmt.Println("Working copy now at", res.NewStatus.WorkingCopy.ShortID)
		return nil
	case messages.UpdatedSelection:
		fmt.Println("Working copy now at", res.NewSelection.ShortID)
		return nil
	case messages.Unchanged:
		fmt.Println("Nothing changed")
		return nil
	case messages.PreconditionError:
		return fmt.Errorf("%s", res.Message)
	case messages.NotFound:
		return fmt.Errorf("revision not found")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
