package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"joke-catalog/internal/config"
	"joke-catalog/internal/database"
)

var flags = flag.NewFlagSet("goose", flag.ExitOnError)

func main() {
	flags.Usage = usage
	flags.Parse(os.Args[1:])
	args := flags.Args()

	if len(args) < 1 {
		flags.Usage()
		os.Exit(1)
	}

	dbCfg := config.DatabaseConfig{
		Host: "localhost",
		Port: 5432,
		User: "jokes",
		Name: "jokes",
	}

	cfg, err := config.Read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Note: using default database settings: %v\n", err)
	} else {
		dbCfg = cfg.Database
	}

	if err := database.Migrate(context.Background(), dbCfg.ConnectionString(), args[0], args[1:]...); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(usagePrefix)
	flags.PrintDefaults()
	fmt.Println(usageCommands)
}

var (
	usagePrefix = `Usage: migrator [OPTIONS] COMMAND

Migrations are embedded in the binary. Connection settings come from the
config file (CONFIG_PATH) or environment variables
DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME

Options:
`

	usageCommands = `
Commands:
    up                   Migrate the database to the most recent version available
    up-by-one            Migrate the database up by 1
    up-to VERSION        Migrate the database to a specific VERSION
    down                 Roll back the version by 1
    down-to VERSION      Roll back to a specific VERSION
    redo                 Re-run the latest migration
    reset                Roll back all migrations
    status               Dump the migration status
    version              Print the current version
`
)
