// Command main fills the post store with fake posts.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"stableposts/internal/bootstrap"
	"stableposts/internal/cache"
	"stableposts/internal/config"
	"stableposts/internal/seed"
)

func main() {
	numPosts := flag.Int("posts", 50, "Number of posts to create")
	shouldClean := flag.Bool("clean", false, "Remove every post before seeding")
	maxDays := flag.Int("max-days", 90, "Spread createdAt over this many days")
	edited := flag.Float64("edited", 0.25, "Share of posts that get an updatedAt")
	dryRun := flag.Bool("dry-run", false, "Generate posts without writing them")
	flag.Parse()

	log.Println("🌱 Post Seeder")
	log.Printf("Target: %d posts, clean=%v, dry-run=%v\n", *numPosts, *shouldClean, *dryRun)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	posts, err := bootstrap.OpenPostStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open post store: %v", err)
	}
	defer func() {
		if err := posts.Close(); err != nil {
			log.Printf("Failed to close post store: %v", err)
		}
	}()

	rdb := cache.InitRedis(cfg.RedisURL)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	postCache := cache.New(rdb, time.Duration(cfg.CacheTTLSeconds)*time.Second)

	s := seed.NewSeeder(posts, postCache, seed.Options{
		MaxDays:     *maxDays,
		EditedRatio: *edited,
		DryRun:      *dryRun,
	})

	if *shouldClean {
		removed, err := s.ClearAll(context.Background())
		if err != nil {
			log.Printf("❌ Cleanup failed: %v", err)
			return
		}
		log.Printf("Removed %d posts", removed)
	}

	seeded, err := s.SeedPosts(*numPosts)
	if err != nil {
		log.Printf("❌ Seeding failed after %d posts: %v", len(seeded), err)
		return
	}

	log.Printf("✨ Done. The store now holds %d posts (%d bytes).", posts.Len(), posts.UsedBytes())
}
