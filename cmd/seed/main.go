package main

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/infrastructure/bus"
	"chat-sync/infrastructure/remote"
	"chat-sync/infrastructure/storage"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

// seed fills a badger directory with channels and messages for local runs.
// With -nats the writes are also announced to running sessions.
func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	natsURL := flag.String("nats", "", "NATS url used to announce writes")
	members := flag.String("members", "alice,bob", "Comma separated members of every channel")
	channels := flag.String("channels", "general,random", "Comma separated channel names")
	count := flag.Int("messages", 50, "Messages per channel")
	flag.Parse()

	if err := run(*dbPath, *natsURL, strings.Split(*members, ","), strings.Split(*channels, ","), *count); err != nil {
		fmt.Fprintf(os.Stderr, "Seeding failed: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath, natsURL string, members, channels []string, count int) error {
	log := logs.GetLoggerFromLevel(slog.LevelInfo)
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return err
	}
	defer db.Close()

	var changeBus contract.IChangeBus = bus.NewHub(log)
	if natsURL != "" {
		if changeBus, err = bus.NewNatsBus(log, bus.NatsConfig{URL: natsURL, Name: "chat-sync-seed"}); err != nil {
			return err
		}
	}
	defer changeBus.Close()
	store := remote.NewStore(log, storage.NewMessageRepository(db, log), storage.NewChannelRepository(db, log), changeBus)

	ctx := context.Background()
	for _, name := range channels {
		channel, err := store.UpsertChannel(ctx, domain.Channel{ID: name, Name: name, Members: members})
		if err != nil {
			return err
		}
		for i := 1; i <= count; i++ {
			author := members[i%len(members)]
			_, err = store.InsertMessage(ctx, domain.NewMessage{
				ChannelID: channel.ID,
				AuthorID:  author,
				Content:   fmt.Sprintf("message %d in %s", i, channel.Name),
			})
			if err != nil {
				return err
			}
		}
		log.Info("Channel seeded", "channel", channel.ID, "messages", count)
	}
	return nil
}
