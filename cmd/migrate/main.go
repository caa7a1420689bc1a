// Command migrate applies the postgres schema used when several engine
// instances share one database. The sqlite backend migrates itself on open
// and does not need this tool.
package main

import (
	"embed"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

func main() {
	var (
		dsn  string
		down bool
	)
	flag.StringVar(&dsn, "dsn", os.Getenv("POSTPILOT_DSN"), "postgres dsn (or POSTPILOT_DSN)")
	flag.BoolVar(&down, "down", false, "roll back all migrations instead of applying them")
	flag.Parse()

	if dsn == "" {
		fmt.Println("fatal: -dsn is required")
		os.Exit(1)
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer m.Close()

	if down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("schema up to date")
		return
	}
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	fmt.Println("schema migrated")
}
