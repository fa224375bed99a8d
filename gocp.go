package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dyastin-0/gocp/cmd"
)

func main() {
	c := cmd.New()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := c.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
