package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rdrelay/internal/client"
	"rdrelay/internal/config"
	"rdrelay/internal/logger"
	"rdrelay/internal/session"
)

func main() {
	var (
		url          = flag.String("url", "ws://localhost:8000/ws", "relay websocket URL")
		deviceID     = flag.String("device-id", "", "stable device identifier")
		name         = flag.String("name", "", "human-readable device name")
		username     = flag.String("username", "", "relay username")
		password     = flag.String("password", "", "relay password")
		pairPassword = flag.String("pair-password", "", "password controllers must supply; empty accepts everyone")
		compression  = flag.String("compression", "snappy", "frame compression: none, snappy or zstd")
		logLevel     = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	if *deviceID == "" {
		fmt.Fprintln(os.Stderr, "missing -device-id")
		os.Exit(1)
	}
	if *name == "" {
		*name = *deviceID
	}

	log, err := logger.New(config.Log{Level: *logLevel, Console: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	policy := client.AcceptPolicy{AutoAccept: true}
	if *pairPassword != "" {
		hash, err := session.HashPairPassword(*pairPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pair password: %v\n", err)
			os.Exit(1)
		}
		policy = client.AcceptPolicy{PasswordHash: hash}
	}

	agent := client.NewAgent(client.AgentOptions{
		Client: client.ConnectOptions{
			URL:               *url,
			DeviceID:          *deviceID,
			Name:              *name,
			Capabilities:      collectCapabilities(),
			Username:          *username,
			Password:          *password,
			HeartbeatInterval: 10 * time.Second,
			Log:               log,
		},
		Policy:      policy,
		Compression: *compression,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}
}
