package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"egg-market/config"
	"egg-market/internal/store"

	"github.com/golang-migrate/migrate/v4"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: migrate <up|down|version|force VERSION>\n")
	flag.PrintDefaults()
}

func main() {
	steps := flag.Int("steps", 0, "number of migrations to apply or roll back (0 = all for up, 1 for down)")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()
	db, err := store.NewStore(cfg.Database.URL, 1)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	m, err := store.NewMigrator(db)
	if err != nil {
		log.Fatalf("Failed to prepare migrations: %v", err)
	}

	switch flag.Arg(0) {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		n := *steps
		if n <= 0 {
			n = 1
		}
		err = m.Steps(-n)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return
		}
		if verr != nil {
			log.Fatalf("Failed to read version: %v", verr)
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		return
	case "force":
		if flag.NArg() < 2 {
			usage()
			os.Exit(2)
		}
		version, perr := strconv.Atoi(flag.Arg(1))
		if perr != nil {
			log.Fatalf("Invalid version %q: %v", flag.Arg(1), perr)
		}
		err = m.Force(version)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Migration %s done", flag.Arg(0))
}
