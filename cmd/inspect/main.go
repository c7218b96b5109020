package main

import (
	"chat-sync/domain"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan (msg:, chan:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header(*prefix))
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

	rows := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())
			// The id index holds keys, not rows.
			if strings.HasPrefix(key, "msgid:") {
				continue
			}
			err := item.Value(func(v []byte) error {
				row, err := toRow(key, v)
				if err != nil {
					fmt.Println(color.New(color.FgRed).Render(fmt.Sprintf("Error decoding key %s: %v", key, err)))
					return nil
				}
				table.Append(row)
				rows++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(fmt.Sprintf("%d rows under %q", rows, *prefix)))
}

func header(prefix string) []string {
	if strings.HasPrefix(prefix, "chan:") {
		return []string{"Key", "Name", "Type", "Members", "Updated"}
	}
	return []string{"Key", "Channel", "Author", "Created", "Deleted", "Content"}
}

func toRow(key string, value []byte) ([]string, error) {
	if strings.HasPrefix(key, "chan:") {
		var c domain.Channel
		if err := json.Unmarshal(value, &c); err != nil {
			return nil, err
		}
		return []string{key, c.Name, string(c.Type), strings.Join(c.Members, ","), c.UpdatedAt.Format("2006-01-02 15:04:05")}, nil
	}
	var m domain.Message
	if err := json.Unmarshal(value, &m); err != nil {
		return nil, err
	}
	deleted := ""
	if m.DeletedAt != nil {
		deleted = m.DeletedAt.Format("15:04:05")
	}
	content := m.Content
	if len(content) > 60 {
		content = content[:60] + "..."
	}
	return []string{key, m.ChannelID, m.AuthorID, m.CreatedAt.Format("15:04:05"), deleted, content}, nil
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
