package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/fieldsync/internal/facility"
	"github.com/dmitrijs2005/fieldsync/internal/facility/config"
)

func main() {

	ctx := context.Background()
	cfg := config.MustLoad()
	app, err := facility.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
