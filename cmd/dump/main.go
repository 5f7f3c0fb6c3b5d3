// Command main prints the stored posts as JSON in key order and can follow
// post events published by a running server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"stableposts/internal/bootstrap"
	"stableposts/internal/cache"
	"stableposts/internal/config"
	"stableposts/internal/models"
	"stableposts/internal/notifications"
	"stableposts/internal/stable"

	"github.com/goccy/go-json"
)

func main() {
	from := flag.String("from", "", "First post ID to include")
	to := flag.String("to", "", "Stop before this post ID (empty means no upper bound)")
	snapshot := flag.Bool("snapshot", true, "Print the stored posts. The pebble backend must not be open in another process")
	follow := flag.Bool("follow", false, "After the snapshot, print post events from Redis until interrupted")
	pretty := flag.Bool("pretty", false, "Indent the snapshot")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *snapshot {
		if err := dumpStore(cfg, os.Stdout, *from, *to, *pretty); err != nil {
			log.Fatalf("Dump failed: %v", err)
		}
	}

	if *follow {
		if err := followEvents(cfg, os.Stdout); err != nil {
			log.Fatalf("Follow failed: %v", err)
		}
	}
}

func dumpStore(cfg *config.Config, w io.Writer, from, to string, pretty bool) error {
	posts, err := bootstrap.OpenPostStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = posts.Close() }()

	entries, err := posts.Range(from, to)
	if err != nil {
		return err
	}
	log.Printf("Dumping %d of %d posts (%d bytes stored)", len(entries), posts.Len(), posts.UsedBytes())
	return writeSnapshot(w, entries, pretty)
}

// writeSnapshot writes the posts of entries as one JSON array.
func writeSnapshot(w io.Writer, entries []stable.Entry[models.Post], pretty bool) error {
	out := make([]models.Post, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}

	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(out, "", "  ")
	} else {
		data, err = json.Marshal(out)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func followEvents(cfg *config.Config, w io.Writer) error {
	rdb := cache.InitRedis(cfg.RedisURL)
	if rdb == nil {
		return fmt.Errorf("redis at %q is not reachable", cfg.RedisURL)
	}
	defer func() { _ = rdb.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n := notifications.NewNotifier(rdb)
	err := n.StartPostSubscriber(ctx, func(ev notifications.PostEvent) {
		if err := writeEvent(w, ev); err != nil {
			log.Printf("write event: %v", err)
		}
	})
	if err != nil {
		return err
	}
	log.Printf("Following %s, press Ctrl+C to stop", notifications.PostsChannel)
	<-ctx.Done()
	return nil
}

// writeEvent writes ev as a single JSON line.
func writeEvent(w io.Writer, ev notifications.PostEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
