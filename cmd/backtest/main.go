package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bobmcallan/backtestd/internal/catalog"
	"github.com/bobmcallan/backtestd/internal/common"
	"github.com/bobmcallan/backtestd/internal/datasource"
	csvsource "github.com/bobmcallan/backtestd/internal/datasource/csv"
	"github.com/bobmcallan/backtestd/internal/store"
	"github.com/bobmcallan/backtestd/internal/store/memstore"
	"github.com/bobmcallan/backtestd/internal/store/sqlitestore"
)

// app bundles the collaborators every command needs: the attribute store,
// the portfolio catalog, the data-source registry, and a logger.
type app struct {
	config   *common.Config
	logger   *common.Logger
	store    store.AttributeStore
	catalog  *catalog.Catalog
	sources  *datasource.Registry
	closeFns []func() error
}

func newApp(dbOverride string) (*app, error) {
	configPath := os.Getenv("BACKTESTD_CONFIG")
	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	home, _ := os.UserHomeDir()
	if config.Catalog.Path == "" {
		config.Catalog.Path = filepath.Join(home, ".portfolio", "portfolios")
	}

	logger := common.NewLogger(config.Logging.Level)

	a := &app{config: config, logger: logger}

	driver := config.Storage.Driver
	dbPath := dbOverride
	if dbPath == "" {
		dbPath = config.Storage.SQLite.Path
	}

	switch driver {
	case "sqlite":
		s, err := sqlitestore.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.store = s
		a.closeFns = append(a.closeFns, s.Close)
	case "memory", "":
		a.store = memstore.New()
	default:
		return nil, fmt.Errorf("unsupported storage driver %q (use memory or sqlite; surreal requires surrealstore.Open directly)", driver)
	}

	cat, err := catalog.New(config.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open portfolio catalog: %w", err)
	}
	a.catalog = cat

	a.sources = datasource.NewRegistry()
	a.sources.Register("csv", csvsource.New)

	return a, nil
}

func (a *app) Close() {
	for _, fn := range a.closeFns {
		fn()
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	cmd := args[0]
	rest := args[1:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return 0
	}
	if cmd == "version" {
		fmt.Println(common.GetFullVersion())
		return 0
	}

	a, err := newApp(extractDBFlag(rest))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer a.Close()

	ctx := context.Background()

	var cmdErr error
	switch cmd {
	case "load":
		cmdErr = a.cmdLoad(ctx, rest)
	case "instrument":
		cmdErr = a.cmdInstrument(ctx, rest)
	case "portfolio":
		cmdErr = a.cmdPortfolio(rest)
	case "strategy":
		cmdErr = a.cmdStrategy(ctx, rest)
	case "source":
		cmdErr = a.cmdSource(rest)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", cmd)
		printUsage()
		return 1
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", cmdErr)
		return 1
	}
	return 0
}

// extractDBFlag scans a flag list for --db without fully parsing, since the
// store backend must be opened before any subcommand's own flag.Parse call.
func extractDBFlag(args []string) string {
	for i, a := range args {
		if a == "--db" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `backtestd - equity portfolio back-testing engine

Usage:
  backtestd help
  backtestd version
  backtestd load --source <name> --file <path> --instrument <id> [options...]
  backtestd instrument list [--type <type>] [--source <source>]
  backtestd instrument show <id>
  backtestd instrument delete <id>
  backtestd portfolio create --name <name> --instruments a,b,c [--capital <n>]
  backtestd portfolio list
  backtestd portfolio show <id>
  backtestd portfolio delete <id>
  backtestd portfolio add-instrument <id> <instrument> [--weight <w>]
  backtestd portfolio remove-instrument <id> <instrument>
  backtestd strategy list
  backtestd strategy execute --strategy <name> --portfolio <id> --from YYYY-MM-DD --to YYYY-MM-DD [--initial-capital <n>] [--db <path>] [-P key:value ...]
  backtestd source list`)
}
