// Package main provides the gruxi-schema CLI for operating on the admin
// config-revision schema directly, outside the edge server's own startup
// path (internal/store.Store.EnsureSchema only ever applies migrations
// forward).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/iSundram/gruxi/internal/store"
	pkgconfig "github.com/iSundram/gruxi/pkg/config"
	pkgdb "github.com/iSundram/gruxi/pkg/database"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "up":
		cmdUp(os.Args[2:])
	case "down":
		cmdDown(os.Args[2:])
	case "down-to":
		cmdDownTo(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`gruxi-schema - config-revision schema migration tool

Usage:
  gruxi-schema <command> [options]

Commands:
  up        Apply all pending migrations
  down      Roll back the most recently applied migration
  down-to   Roll back to (but not including) a target version
  status    List every migration and whether it has been applied
  help      Show this help message`)
}

func openStore() (*store.Store, func(), error) {
	cfg := pkgconfig.Load()
	db, err := pkgdb.New(pkgdb.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Name,
		Username:        cfg.Database.User,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    5,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	return store.New(db), func() { db.Close() }, nil
}

func cmdUp(args []string) {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	fs.Parse(args)

	st, closeDB, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.Migrator(ctx).Up(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error applying migrations: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migrations applied")
}

func cmdDown(args []string) {
	fs := flag.NewFlagSet("down", flag.ExitOnError)
	fs.Parse(args)

	st, closeDB, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.Migrator(ctx).Down(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error rolling back: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("rolled back one migration")
}

func cmdDownTo(args []string) {
	fs := flag.NewFlagSet("down-to", flag.ExitOnError)
	target := fs.Int("version", 0, "target version to roll back to")
	fs.Parse(args)

	st, closeDB, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.Migrator(ctx).DownTo(ctx, *target); err != nil {
		fmt.Fprintf(os.Stderr, "Error rolling back: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("rolled back to version %d\n", *target)
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)

	st, closeDB, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	statuses, err := st.Migrator(ctx).Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading status: %v\n", err)
		os.Exit(1)
	}
	for _, s := range statuses {
		fmt.Printf("%3d  %-36s applied=%v\n", s.Version, s.Name, s.Applied)
	}
}
