package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	gamelogcmd "github.com/louisbranch/arbiter.games/internal/cmd/gamelogsvc"
)

func main() {
	cfg, args, err := gamelogcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[GAMELOG] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gamelogcmd.Run(ctx, cfg, args, os.Stdout); err != nil {
		log.Fatalf("failed: %v", err)
	}
}
