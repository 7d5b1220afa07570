package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/whisper/channelsync/internal/channelsync"
	"github.com/whisper/channelsync/internal/metrics"
	"github.com/whisper/channelsync/internal/protocol"
	"github.com/whisper/channelsync/internal/rest"
	"github.com/whisper/channelsync/internal/transport"
	"github.com/whisper/channelsync/internal/unread"
)

func main() {
	userID := os.Getenv("USER_ID")
	if userID == "" {
		log.Fatal("USER_ID is required")
	}
	userName := os.Getenv("USER_NAME")
	if userName == "" {
		userName = userID
	}
	channelID := os.Getenv("CHANNEL_ID")
	if channelID == "" {
		log.Fatal("CHANNEL_ID is required")
	}

	// --- REST backend ---
	restConfig := rest.DefaultConfig()
	if v := os.Getenv("API_BASE_URL"); v != "" {
		restConfig.BaseURL = v
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		restConfig.AuthToken = v
	}
	if v := os.Getenv("API_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			restConfig.Timeout = d
		}
	}
	backend := rest.NewClient(restConfig)

	// --- Transport: NATS directly, or the websocket gateway ---
	var tr transport.Transport
	switch os.Getenv("TRANSPORT") {
	case "ws":
		wsConfig := transport.DefaultWSConfig()
		if v := os.Getenv("GATEWAY_URL"); v != "" {
			wsConfig.URL = v
		}
		ws, err := transport.DialWS(wsConfig)
		if err != nil {
			log.Fatalf("failed to connect to gateway: %v", err)
		}
		defer ws.Close()
		tr = ws
	default:
		natsConfig := transport.DefaultNATSConfig()
		if v := os.Getenv("NATS_URL"); v != "" {
			natsConfig.URL = v
		}
		nc, err := transport.ConnectNATS(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer nc.Close()
		tr = nc
	}

	// --- Read-marker store: Redis, SQLite file, or in-memory ---
	var markers unread.MarkerStore
	switch {
	case os.Getenv("REDIS_ADDR") != "":
		store, err := unread.ConnectRedisStore(os.Getenv("REDIS_ADDR"))
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		defer store.Close()
		markers = store
	case os.Getenv("MARKER_DB") != "":
		store, err := unread.OpenSQLiteStore(os.Getenv("MARKER_DB"))
		if err != nil {
			log.Fatalf("failed to open marker db: %v", err)
		}
		defer store.Close()
		markers = store
	default:
		markers = unread.NewMemoryStore()
	}

	config := channelsync.DefaultConfig(userID, userName)
	if v := os.Getenv("HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.HistoryLimit = n
		}
	}
	if v := os.Getenv("SUBSCRIBE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.SubscribeRetries = n
		}
	}

	log.Printf("channel sync client starting")
	log.Printf("  user:          %s", userID)
	log.Printf("  channel:       %s", channelID)
	log.Printf("  api_base_url:  %s", restConfig.BaseURL)
	log.Printf("  history_limit: %d", config.HistoryLimit)

	var controller *channelsync.Controller
	config.Notify = func() {
		rm := controller.Snapshot()
		log.Printf("[view] state=%s messages=%d unread=%s typing=%d present=%d streaming=%v",
			rm.State, len(rm.Messages), rm.Banner.State, len(rm.Typing), len(rm.Present), rm.Streaming)
		if rm.Err != nil {
			log.Printf("[view] degraded: %v", rm.Err)
		}
	}
	config.OnWriteFailure = func(op string, payload protocol.SendPayload, err error) {
		log.Printf("[write] %s failed, payload returned for retry: %v", op, err)
	}

	controller = channelsync.New(backend, tr, markers, config)
	controller.Activate(channelID)

	// --- Metrics endpoint ---
	metricsAddr := ":9100"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		log.Printf("metrics listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println()
	log.Printf("received %s, shutting down", sig)

	controller.Close()
	log.Printf("shutdown complete")
}
