// Command main runs the database seeder for Discuzz.
package main

import (
	"flag"
	"log"

	"discuzz/internal/config"
	"discuzz/internal/database"
	"discuzz/internal/seed"
)

func main() {
	// Parse command line flags
	numUsers := flag.Int("users", 50, "Number of users to create")
	numThreads := flag.Int("threads", 20, "Number of comment threads to create")
	commentsPerThread := flag.Int("comments", 15, "Comments per thread")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d users, %d threads x %d comments, clean=%v\n",
		*numUsers, *numThreads, *commentsPerThread, *shouldClean)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := seed.Seed(db, seed.Options{
		NumUsers:          *numUsers,
		NumThreads:        *numThreads,
		CommentsPerThread: *commentsPerThread,
		ShouldClean:       *shouldClean,
	}); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}
}
