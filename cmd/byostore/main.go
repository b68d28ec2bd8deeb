package main

import (
	"context"
	"log"

	"github.com/graffiti-garden/byo-storage/internal/cli"
	"github.com/graffiti-garden/byo-storage/internal/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := cli.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
