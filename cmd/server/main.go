package main

import (
	"context"
	"log"

	"github.com/heirkeep/vault/internal/server"
	"github.com/heirkeep/vault/internal/vault/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}
	defer app.Close()

	app.Run(ctx)

}
