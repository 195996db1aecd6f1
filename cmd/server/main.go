package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/parrotkeeper/internal/server"
	"github.com/dmitrijs2005/parrotkeeper/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	if cfg.MintSubject != "" {
		if err := server.MintToken(os.Stdout, cfg, cfg.MintSubject); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
