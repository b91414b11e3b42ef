package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nexcode-project/nexcode-sub000/internal/auth"
	"github.com/nexcode-project/nexcode-sub000/internal/cache"
	"github.com/nexcode-project/nexcode-sub000/internal/config"
	"github.com/nexcode-project/nexcode-sub000/internal/engine"
	"github.com/nexcode-project/nexcode-sub000/internal/events"
	"github.com/nexcode-project/nexcode-sub000/internal/httpapi"
	"github.com/nexcode-project/nexcode-sub000/internal/sema"
	"github.com/nexcode-project/nexcode-sub000/internal/snapshot"
	"github.com/nexcode-project/nexcode-sub000/internal/store"
	"github.com/nexcode-project/nexcode-sub000/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("connect mysql failed: %v", err)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("connect redis failed: %v", err)
	}
	defer rdb.Close()

	// SyncProducer 必须开启 Return.Successes
	var producer sarama.SyncProducer
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err = sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("connect kafka failed: %v", err)
		}
		defer producer.Close()
	} else {
		log.Printf("kafka disabled: no brokers configured")
	}

	documentStore := store.NewDocumentStore(db)
	operationStore := store.NewOperationStore(db)
	snapshotStore := store.NewSnapshotStore(db)

	kafkaSem := sema.New(8)
	wsSem := sema.New(cfg.WS.MaxConcurrent)

	dispatcher := events.NewDispatcher(producer, cfg.Kafka.Topic, kafkaSem, events.DispatcherOptions{
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  time.Second,
	})

	eng := engine.New(documentStore, operationStore)
	eng.SetPublisher(dispatcher)

	snaps := snapshot.NewManager(snapshotStore, operationStore, eng, cfg.Snapshot.QueueSize)
	eng.SetSnapshotter(snaps)

	verifier := auth.NewVerifier(cfg.Auth.Secret)
	var authz auth.Authorizer = auth.AllowAll{}
	if cfg.Auth.PermissionURL != "" {
		authz = auth.NewHTTPAuthorizer(cfg.Auth.PermissionURL)
	}

	presence := cache.NewRedisPresence(rdb)
	hub := ws.NewHub()
	manager := ws.NewManager(hub, eng, snaps, presence, verifier, authz, wsSem, cfg.WS.AllowedOrigins)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	authed := r.Group("/")
	authed.Use(auth.Middleware(verifier))
	authed.GET("/ws", manager.WebSocketConnect)
	httpapi.NewHandler(eng, snaps, authz).RegisterRoutes(authed)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("server stopped: %v", err)
	}

	// Drain pending saves and events before letting the process exit.
	snaps.Close()
	dispatcher.Close()
}
