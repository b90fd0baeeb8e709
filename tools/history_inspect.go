package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"relay-lab/domain"
	"relay-lab/repositories"
)

// Dumps the stored broadcast history as a table, newest last.
func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	limit := flag.Int("limit", 50, "Number of messages to show")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	repository := repositories.NewMessageRepository(db, slog.New(slog.DiscardHandler))
	messages, err := repository.Recent(*limit)
	if err != nil {
		log.Fatal(err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"At", "ID", "Sender", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.AppendBulk(lo.Map(messages, func(m domain.Message, _ int) []string {
		// The first 8 characters of the ID are enough to tell lines apart
		return []string{m.At.Format("2006-01-02 15:04:05"), m.ID.String()[:8], m.Sender, m.Content}
	}))
	table.Render()
	fmt.Printf("%d message(s)\n", len(messages))
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil && strings.Contains(err.Error(), "Log truncate required") {
		// A relay killed mid-write needs one read-write open to truncate the value log
		repairOpts := badger.DefaultOptions(path).WithLogger(nil).WithBypassLockGuard(true)
		db, err = badger.Open(repairOpts)
		if err != nil {
			return nil, fmt.Errorf("repair failed: %w", err)
		}
		_ = db.Close()
		return badger.Open(opts)
	}
	return db, err
}
