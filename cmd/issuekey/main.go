// Command issuekey mints an API key directly against the database. It exists
// to bootstrap the first admin key, after which keys are managed over the
// admin API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/database"
	"github.com/modelrelay/modelrelay/internal/store"
)

func main() {
	name := flag.String("name", "", "human readable key name")
	tier := flag.String("tier", "default", "quota tier")
	admin := flag.Bool("admin", false, "grant admin privileges")
	userFlag := flag.String("user", "", "existing user id (defaults to a new one)")
	flag.Parse()

	if *name == "" {
		log.Fatal("-name is required")
	}

	userID := uuid.New()
	if *userFlag != "" {
		parsed, err := uuid.Parse(*userFlag)
		if err != nil {
			log.Fatalf("invalid -user: %v", err)
		}
		userID = parsed
	}

	ctx := context.Background()
	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbPool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer dbPool.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := auth.NewService(store.New(dbPool), logger)

	key, token, err := svc.CreateKey(ctx, userID, *name, *tier, *admin)
	if err != nil {
		log.Fatalf("create key: %v", err)
	}

	fmt.Printf("key id:  %s\nuser id: %s\ntier:    %s\nadmin:   %v\ntoken:   %s\n",
		key.ID, key.UserID, key.Tier, key.IsAdmin, token)
	fmt.Println("store the token now; it cannot be recovered later")
}
