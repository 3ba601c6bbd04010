package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/lefinal/flipmatch/app"
	"github.com/lefinal/flipmatch/errors"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, errors.Prettify(err))
		os.Exit(1)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	err = app.NewApp(config).Boot(ctx)
	if err != nil {
		cancel()
		os.Exit(1)
	}
}
