package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/fieldsync/internal/device"
	"github.com/dmitrijs2005/fieldsync/internal/device/config"
)

func main() {

	ctx := context.Background()
	cfg := config.MustLoad()
	app, err := device.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
