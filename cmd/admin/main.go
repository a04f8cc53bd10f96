// Command admin is the operator tool for the retry queue: list rows, put an
// exhausted row back into rotation, or delete a row that will never succeed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/config"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	if cfg.Database.URL == "" {
		fatal("no database configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		fatal("connect: %v", err)
	}
	defer db.Close()

	repo := postgres.NewFailedRecordRepo(db)

	switch cmd := flag.Arg(0); cmd {
	case "list":
		rows, err := repo.List(ctx)
		if err != nil {
			fatal("list: %v", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLIBRIS ID\tTYPE\tMMS ID\tATTEMPTS\tSTATUS\tLAST ATTEMPT\tMESSAGE")
		for _, r := range rows {
			msg := r.Message
			if len(msg) > 60 {
				msg = msg[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				r.ID, r.LibrisID, r.RecordType, r.MmsID, r.Attempts, r.Status,
				r.LastAttempt.Format(time.RFC3339), msg)
		}
		w.Flush()

	case "requeue":
		id := requireArg(1, "record id")
		if err := repo.Requeue(ctx, id); err != nil {
			fatal("requeue: %v", err)
		}
		fmt.Printf("Requeued %s\n", id)

	case "delete":
		id := requireArg(1, "record id")
		if err := repo.Delete(ctx, id); err != nil {
			fatal("delete: %v", err)
		}
		fmt.Printf("Deleted %s\n", id)

	default:
		usage()
		os.Exit(2)
	}
}

func requireArg(n int, name string) string {
	if flag.NArg() <= n {
		fatal("missing %s", name)
	}
	return flag.Arg(n)
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: admin [-config config.yaml] <list|requeue <id>|delete <id>>")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
