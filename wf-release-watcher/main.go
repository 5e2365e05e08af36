// wf-release-watcher: HTTP trigger API plus the scheduled version watch.
// Accepted triggers are produced to Kafka for wf-release-builder.

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"releasebot/config"
	"releasebot/dispatch"
	"releasebot/marker"
	"releasebot/models"
	"releasebot/store"
	"releasebot/validate"
	"releasebot/watcher"
)

var log = logrus.New()

type server struct {
	cfg      config.Config
	store    *store.Store
	producer *dispatch.Producer
	watch    *watcher.Watcher
}

func main() {
	configPath := flag.String("config", "releasebot.yaml", "path to config file")
	flag.Parse()

	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	st, err := store.Open(cfg.Postgres.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("connect to redis: %v", err)
	}

	producer, err := dispatch.NewProducer(cfg.Kafka.BootstrapServers, cfg.Kafka.Topic)
	if err != nil {
		log.Fatal(err)
	}
	defer producer.Close()

	s := &server{
		cfg:      cfg,
		store:    st,
		producer: producer,
		watch: &watcher.Watcher{
			Tags:        validate.GitRefLister{},
			Marker:      marker.NewRedisStore(redisClient),
			UpstreamURL: cfg.Upstream.RepositoryURL,
			Log:         log,
			Attempts:    3,
			Backoff:     2 * time.Second,
		},
	}

	go s.watchLoop(context.Background())

	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	r.HandleFunc("/api/v1/dispatch", s.dispatchHandler).Methods("POST")
	r.HandleFunc("/api/v1/build/{build_id}", s.buildInfoHandler).Methods("GET")

	log.WithField("addr", cfg.HTTP.Addr).Info("wf-release-watcher started")
	log.Fatal(http.ListenAndServe(cfg.HTTP.Addr, r))
}

// watchLoop runs the scheduled version check. Errors are logged and retried
// on the next tick, never fatal.
func (s *server) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Upstream.PollInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		req, err := s.watch.Check(ctx)
		if err != nil {
			log.WithError(err).Warn("watch tick failed, waiting for next tick")
			continue
		}
		if req == nil {
			continue
		}
		req.BuildID = uuid.New().String()
		if err := s.enqueue(ctx, *req); err != nil {
			log.WithError(err).WithField("version_ref", req.VersionRef).Error("could not enqueue scheduled build")
		}
	}
}

func (s *server) enqueue(ctx context.Context, req models.BuildRequest) error {
	if err := s.store.Save(ctx, req); err != nil {
		return err
	}
	return s.producer.Send(models.DispatchMessage{
		BuildID:       req.BuildID,
		RepositoryURL: req.RepositoryURL,
		VersionRef:    req.VersionRef,
	})
}

func (s *server) dispatchHandler(w http.ResponseWriter, r *http.Request) {
	var trigger models.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if trigger.RepositoryURL == "" {
		trigger.RepositoryURL = s.cfg.Upstream.RepositoryURL
	}
	if trigger.VersionRef == "" {
		trigger.VersionRef = s.cfg.Upstream.DefaultRef
	}
	if err := validate.CheckURL(trigger.RepositoryURL); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := models.BuildRequest{
		BuildID:       uuid.New().String(),
		RepositoryURL: trigger.RepositoryURL,
		VersionRef:    trigger.VersionRef,
		State:         models.StatePending,
	}
	req.Record(models.EventRequestReceived, models.Event{Reason: "manual trigger"})

	if err := s.enqueue(r.Context(), req); err != nil {
		log.WithError(err).Error("could not enqueue manual build")
		http.Error(w, "could not enqueue build", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.DispatchResponse{
		BuildID: req.BuildID,
		Outcome: models.OutcomeDispatched,
	})
}

func (s *server) buildInfoHandler(w http.ResponseWriter, r *http.Request) {
	buildID := mux.Vars(r)["build_id"]

	info, err := s.store.Get(r.Context(), buildID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		http.NotFound(w, r)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Info("request")
		next.ServeHTTP(w, r)
	})
}
