package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"

	"github.com/ewancrowle/quicd/internal/api"
	"github.com/ewancrowle/quicd/internal/config"
	"github.com/ewancrowle/quicd/internal/conn"
	"github.com/ewancrowle/quicd/internal/endpoint"
	"github.com/ewancrowle/quicd/internal/sync"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Connection table, shared by the endpoint engine and the admin API.
	table := &conn.Table{}

	// 3. Cluster sync (nil when disabled, matching the teacher's nil-object
	// RedisSync so every caller can use it unconditionally).
	hostname, _ := os.Hostname()
	processAddr := fmt.Sprintf("%s:%d", hostname, cfg.UDP.Port)
	cluster := sync.NewRedisSync(cfg, processAddr)
	if cluster != nil {
		if _, err := cluster.LoadInitialOwners(ctx); err != nil {
			log.Warnf("failed to load initial connection owners from redis: %v", err)
		}
		go cluster.Subscribe(ctx, func(cid []byte, addr string) {
			log.Debugf("cluster: %x owned by %s", cid, addr)
		})
	}

	// 4. Endpoint engine: UDP socket + connection demux + handshake driver.
	eng, err := endpoint.New(cfg, table, cluster)
	if err != nil {
		log.Fatalf("failed to initialize endpoint: %v", err)
	}
	go func() {
		if err := eng.Start(ctx); err != nil {
			log.Fatalf("endpoint error: %v", err)
		}
	}()

	// 5. Admin API.
	server := api.NewServer(cfg, table)
	go func() {
		log.Infof("admin API listening on :%d", cfg.API.Port)
		if err := server.Start(); err != nil {
			log.Fatalf("admin API error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down quicd")
	cancel()
}
