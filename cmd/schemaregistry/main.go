package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsd "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/nimbusdata/schema-registry/internal/api"
	"github.com/nimbusdata/schema-registry/internal/config"
	"github.com/nimbusdata/schema-registry/internal/filestore"
	"github.com/nimbusdata/schema-registry/internal/lifecycle"
	"github.com/nimbusdata/schema-registry/internal/providers"
	"github.com/nimbusdata/schema-registry/internal/providers/avro"
	"github.com/nimbusdata/schema-registry/internal/providers/jsonschema"
	"github.com/nimbusdata/schema-registry/internal/providers/protobuf"
	"github.com/nimbusdata/schema-registry/internal/serdes"
	"github.com/nimbusdata/schema-registry/internal/storage"
)

type server struct {
	cfg          *config.Config
	js           nats.JetStreamContext
	kvRegistry   nats.KeyValue
	objFiles     nats.ObjectStore
	http         *http.Server
	natsServer   *natsd.Server
	embeddedNATS bool
}

func main() {
	cfg, err := config.Load(os.Getenv("SCHEMA_REGISTRY_CONFIG"), os.Args[1:]...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("starting schema registry", "httpAddr", cfg.HTTPAddr, "natsUrl", cfg.NATSURL)

	srv := &server{cfg: cfg}
	var store storage.Store = storage.NewMemStore()
	var files filestore.Store = filestore.NewMemBlobStore()

	if err := srv.setup(); err != nil {
		slog.Error("NATS setup failed, continuing with in-memory storage", "error", err)
	} else {
		store = storage.NewNATSStore(srv.kvRegistry)
		files = filestore.NewNATSObjectStore(srv.objFiles)
	}

	provReg := providers.NewRegistry(avro.New(), jsonschema.New(), protobuf.New())
	engine := lifecycle.New(store, provReg, cfg.CacheSize(), cfg.CacheExpiryInterval())
	serdesMgr := serdes.New(store, files)

	stopReload, err := cfg.WatchReload()
	if err != nil {
		slog.Warn("config hot-reload disabled", "error", err)
		stopReload = func() {}
	}
	defer stopReload()

	router := api.New(engine, serdesMgr).SetupRouter()
	srv.http = &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		slog.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	srv.gracefulShutdown(5 * time.Second)
}

func (s *server) startEmbeddedNATS() error {
	slog.Info("starting embedded NATS server for test mode")

	tmpDir, err := os.MkdirTemp("", "schema-registry-nats-*")
	if err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}

	opts := &natsd.Options{
		JetStream:  true,
		Port:       4222,
		Host:       "127.0.0.1",
		StoreDir:   tmpDir,
		MaxPayload: 8 * 1024 * 1024,
	}

	ns, err := natsd.NewServer(opts)
	if err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("embedded NATS server failed to start")
	}

	timeout := time.Now().Add(5 * time.Second)
	for time.Now().Before(timeout) {
		if ns.JetStreamEnabled() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !ns.JetStreamEnabled() {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("JetStream failed to start")
	}

	slog.Info("embedded NATS server started")
	s.natsServer = ns
	s.embeddedNATS = true
	return nil
}

func (s *server) setup() error {
	slog.Debug("connecting to NATS", "url", s.cfg.NATSURL)

	nc, err := nats.Connect(s.cfg.NATSURL,
		nats.Name("Schema Registry"),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			slog.Error("NATS error", "error", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Error("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)

	if err != nil && s.cfg.TestMode {
		slog.Info("external NATS unavailable, starting embedded server")
		if err := s.startEmbeddedNATS(); err != nil {
			return fmt.Errorf("start embedded NATS server: %w", err)
		}
		nc, err = nats.Connect(nats.DefaultURL, nats.Name("Schema Registry"), nats.Timeout(5*time.Second))
		if err != nil {
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	slog.Info("connected to NATS")

	s.js, err = nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		return fmt.Errorf("JetStream context: %w", err)
	}

	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		if s.kvRegistry, err = s.makeKVBucket(s.cfg.SchemaBucket, "schema registry records"); err != nil {
			if i == maxRetries-1 {
				return fmt.Errorf("create registry bucket: %w", err)
			}
			time.Sleep(time.Second)
			continue
		}
		break
	}

	for i := 0; i < maxRetries; i++ {
		if s.objFiles, err = s.makeObjectBucket(s.cfg.FileBucket, "serdes artifact bytes"); err != nil {
			if i == maxRetries-1 {
				return fmt.Errorf("create file bucket: %w", err)
			}
			time.Sleep(time.Second)
			continue
		}
		break
	}

	slog.Info("NATS setup completed")
	return nil
}

func (s *server) makeKVBucket(name, desc string) (nats.KeyValue, error) {
	kv, err := s.js.KeyValue(name)
	if err == nats.ErrBucketNotFound {
		return s.js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      name,
			Description: desc,
			Storage:     nats.FileStorage,
			History:     5,
		})
	}
	return kv, err
}

func (s *server) makeObjectBucket(name, desc string) (nats.ObjectStore, error) {
	obs, err := s.js.ObjectStore(name)
	if err == nats.ErrStreamNotFound {
		return s.js.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:      name,
			Description: desc,
			Storage:     nats.FileStorage,
		})
	}
	return obs, err
}

func (s *server) gracefulShutdown(timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("shutting down server...")
	if err := s.http.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if s.embeddedNATS && s.natsServer != nil {
		slog.Info("shutting down embedded NATS server")
		s.natsServer.Shutdown()
	}
}
