package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/config"
	repopg "github.com/tendant/simple-h5p/pkg/h5p/repo/postgres"
)

const usage = `H5P Content Admin CLI

An admin tool for H5P contents that talks to the database and storage directly.

USAGE:
  admin <command> [options]

COMMANDS:
  list            List contents with optional filtering
  libraries       List installed libraries
  import <file>   Import an .h5p package
  export <id>     Write the .h5p export of a content
  delete-unused   Delete every content without a usage
  migrate         Apply database migrations

ENVIRONMENT VARIABLES:
  HH5P_DB_TYPE           Database type: postgres or memory (default: memory)
  HH5P_DATABASE_URL      PostgreSQL connection string
  HH5P_STORAGE_BACKEND   Storage backend: memory, fs or s3 (default: memory)
  HH5P_STORAGE_DIR       Base directory of the fs backend

  Configuration can be loaded from a .env file in the current directory.
  Command line environment variables override .env file values.

EXAMPLES:
  admin list --title=quiz --per-page=20
  admin list --user-id=7 --json
  admin import ./quiz.h5p --user-id=7 --author="Ada Lovelace"
  admin export 42 --out=./quiz.h5p
  admin delete-unused

OPTIONS:
  --title=<text>        Filter by title (list)
  --library-id=<n>      Filter by library (list)
  --user-id=<n>         Filter by, or import as, user (list, import)
  --author=<name>       Filter by, or import as, author (list, import)
  --per-page=<n>        Page size, 0 for everything (list, default: 15)
  --page=<n>            Page number (list, default: 1)
  --out=<path>          Output file (export, default: the export file name)
  --json                Output as JSON
`

type options struct {
	args  []string
	flags map[string]string
	json  bool
}

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	command := os.Args[1]

	// Check for help
	if command == "help" || command == "--help" || command == "-h" {
		fmt.Print(usage + "\n")
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	opts := parseOptions(os.Args[2:])
	ctx := context.Background()

	if command == "migrate" {
		handleMigrate(cfg)
		return
	}

	contents, closeStore := createContentRepository(ctx, cfg)
	defer closeStore()

	switch command {
	case "list":
		err = handleList(ctx, contents, opts)
	case "libraries":
		err = handleLibraries(ctx, contents, opts)
	case "import":
		err = handleImport(ctx, contents, opts)
	case "export":
		err = handleExport(ctx, contents, opts)
	case "delete-unused":
		err = handleDeleteUnused(ctx, contents, opts)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage + "\n")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

func createContentRepository(ctx context.Context, cfg *config.Config) (h5p.ContentRepository, func()) {
	store, closeStore, err := cfg.BuildStore(ctx)
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}
	blobs, err := cfg.BuildBlobStore(ctx)
	if err != nil {
		closeStore()
		log.Fatalf("Failed to create storage backend: %v", err)
	}
	contents, err := h5p.NewContentRepository(h5p.WithStore(store), h5p.WithBlobStore(blobs))
	if err != nil {
		closeStore()
		log.Fatalf("Failed to create content repository: %v", err)
	}
	return contents, closeStore
}

func parseOptions(args []string) options {
	opts := options{flags: make(map[string]string)}
	for _, arg := range args {
		if arg == "--json" {
			opts.json = true
			continue
		}
		if !strings.HasPrefix(arg, "--") {
			opts.args = append(opts.args, arg)
			continue
		}
		key, value, ok := strings.Cut(arg[2:], "=")
		if !ok {
			value = "true"
		}
		opts.flags[key] = value
	}
	return opts
}

func (o options) int64Flag(key string) (int64, error) {
	raw, ok := o.flags[key]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("--%s must be an integer", key)
	}
	return n, nil
}

func handleList(ctx context.Context, contents h5p.ContentRepository, opts options) error {
	q := url.Values{}
	for flag, param := range map[string]string{"title": "title", "library-id": "library_id", "user-id": "user_id", "author": "author"} {
		if v, ok := opts.flags[flag]; ok {
			q.Set(param, v)
		}
	}
	filter, err := h5p.ContentFilterFromQuery(q)
	if err != nil {
		return err
	}

	perPage := int64(h5p.DefaultPerPage)
	if _, ok := opts.flags["per-page"]; ok {
		if perPage, err = opts.int64Flag("per-page"); err != nil {
			return err
		}
	}
	page, err := opts.int64Flag("page")
	if err != nil {
		return err
	}

	var items []*h5p.Content
	var result *h5p.Page[*h5p.Content]
	if perPage == 0 {
		items, err = contents.UnpaginatedList(ctx, filter, h5p.IndexColumns)
	} else {
		result, err = contents.List(ctx, filter, int(perPage), int(page), h5p.IndexColumns)
		if result != nil {
			items = result.Items
		}
	}
	if err != nil {
		return err
	}

	if opts.json {
		if result != nil {
			return printJSON(result)
		}
		return printJSON(items)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tUUID\tTITLE\tLIBRARY\tUSER\tAUTHOR\n")
	for _, c := range items {
		library := "-"
		if c.Library != nil {
			library = c.Library.Ref().String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			c.ID,
			c.UUID.String()[:8]+"...",
			truncate(c.Title, 30),
			library,
			c.UserID,
			truncate(c.Author, 20),
		)
	}
	w.Flush()

	if result != nil {
		fmt.Printf("\nPage %d of %d, total: %d\n", result.Page, result.LastPage, result.Total)
	} else {
		fmt.Printf("\nTotal: %d\n", len(items))
	}
	return nil
}

func handleLibraries(ctx context.Context, contents h5p.ContentRepository, opts options) error {
	libs, err := contents.ListLibraries(ctx)
	if err != nil {
		return err
	}

	if opts.json {
		return printJSON(libs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tLIBRARY\tPATCH\tRUNNABLE\tTITLE\n")
	for _, lib := range libs {
		fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%s\n", lib.ID, lib.Ref(), lib.PatchVersion, lib.Runnable, truncate(lib.Title, 30))
	}
	w.Flush()
	return nil
}

func handleImport(ctx context.Context, contents h5p.ContentRepository, opts options) error {
	if len(opts.args) != 1 {
		return fmt.Errorf("import takes exactly one package path")
	}
	userID, err := opts.int64Flag("user-id")
	if err != nil {
		return err
	}

	f, err := os.Open(opts.args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	content, err := contents.Upload(ctx, h5p.UploadRequest{
		FileName: info.Name(),
		Reader:   f,
		Size:     info.Size(),
		UserID:   userID,
		Author:   opts.flags["author"],
	})
	if err != nil {
		return err
	}

	if opts.json {
		return printJSON(content)
	}
	fmt.Printf("Imported %q as content %d (%s)\n", content.Title, content.ID, content.UUID)
	return nil
}

func handleExport(ctx context.Context, contents h5p.ContentRepository, opts options) error {
	if len(opts.args) != 1 {
		return fmt.Errorf("export takes exactly one content id")
	}
	id, err := strconv.ParseInt(opts.args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid content id %q", opts.args[0])
	}

	archive, err := contents.Download(ctx, id)
	if err != nil {
		return err
	}
	defer archive.Body.Close()

	out := opts.flags["out"]
	if out == "" {
		out = archive.FileName
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := io.Copy(f, archive.Body)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d bytes)\n", out, n)
	return nil
}

func handleDeleteUnused(ctx context.Context, contents h5p.ContentRepository, opts options) error {
	ids, err := contents.DeleteUnused(ctx)
	if err != nil {
		return err
	}

	if opts.json {
		return printJSON(map[string]any{"ids": ids})
	}
	fmt.Printf("Deleted %d unused contents\n", len(ids))
	return nil
}

func handleMigrate(cfg *config.Config) {
	if cfg.DB.Type != "postgres" {
		log.Fatalf("migrate requires HH5P_DB_TYPE=postgres")
	}
	if err := repopg.Migrate(cfg.DB.DatabaseURL()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	fmt.Println("Database is up to date")
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
