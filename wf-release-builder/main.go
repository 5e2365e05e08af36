// wf-release-builder: consumes dispatch messages, builds the requested ref in
// a container, publishes the release, and records every lifecycle event.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"releasebot/builder"
	"releasebot/config"
	"releasebot/dispatch"
	"releasebot/marker"
	"releasebot/models"
	"releasebot/orchestrator"
	"releasebot/publish"
	"releasebot/store"
	"releasebot/validate"
)

const workQueue = "releasebot:build_queue"

var log = logrus.New()

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

	builds, err := builder.NewDockerBackend(cfg.Build, log)
	if err != nil {
		log.Fatal(err)
	}

	orch := &orchestrator.Orchestrator{
		Validator: &validate.Validator{
			Refs:       validate.GitRefLister{},
			DefaultRef: cfg.Upstream.DefaultRef,
			Strict:     cfg.Validation.Strict,
			Log:        log,
			Attempts:   3,
			Backoff:    2 * time.Second,
		},
		Dispatcher: &dispatch.Dispatcher{
			Builds:  builds,
			Reserve: dispatch.NewRedisReservation(redisClient, cfg.Dispatch.ReservationTTL.Std()),
			Log:     log,
		},
		Publisher: &publish.Publisher{
			Backend: publish.NewGitHubBackend(cfg.Release.Owner, cfg.Release.Repo, cfg.Release.Token()),
			Marker:  marker.NewRedisStore(redisClient),
			Log:     log,
		},
		Sink:     st,
		Releases: st,
		Log:      log,
	}

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Kafka.BootstrapServers,
		"group.id":          cfg.Kafka.GroupID,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		log.Fatalf("create kafka consumer: %v", err)
	}
	if err := consumer.SubscribeTopics([]string{cfg.Kafka.Topic}, nil); err != nil {
		log.Fatalf("subscribe to %s: %v", cfg.Kafka.Topic, err)
	}

	ctx := context.Background()
	go processQueue(ctx, redisClient, orch, cfg.Build.Concurrency)

	log.WithField("topic", cfg.Kafka.Topic).Info("wf-release-builder started")
	for {
		msg, err := consumer.ReadMessage(-1)
		if err != nil {
			log.WithError(err).Warn("consumer error")
			continue
		}
		if err := redisClient.LPush(ctx, workQueue, string(msg.Value)).Err(); err != nil {
			log.WithError(err).Error("could not queue build message")
		}
	}
}

// processQueue drains the Redis work queue, running at most concurrency
// builds at a time.
func processQueue(ctx context.Context, redisClient *redis.Client, orch *orchestrator.Orchestrator, concurrency int) {
	sem := make(chan struct{}, concurrency)
	for {
		res, err := redisClient.BRPop(ctx, 5*time.Second, workQueue).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			log.WithError(err).Warn("could not dequeue build message")
			time.Sleep(time.Second)
			continue
		}
		// BRPop returns [key, value].
		payload := res[1]

		var msg models.DispatchMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			log.WithError(err).Error("malformed dispatch message dropped")
			continue
		}

		sem <- struct{}{}
		go func(msg models.DispatchMessage) {
			defer func() { <-sem }()
			runBuild(ctx, orch, msg)
		}(msg)
	}
}

// runBuild drives one dispatch message to a terminal outcome. Failures are
// fully reported through the orchestrator; this is just the reporting shell.
func runBuild(ctx context.Context, orch *orchestrator.Orchestrator, msg models.DispatchMessage) {
	req := models.BuildRequest{
		BuildID:       msg.BuildID,
		RepositoryURL: msg.RepositoryURL,
		VersionRef:    msg.VersionRef,
		State:         models.StatePending,
	}
	req.Record(models.EventRequestReceived, models.Event{Reason: "dispatch message"})

	outcome, err := orch.Run(ctx, req)
	entry := log.WithFields(logrus.Fields{
		"build_id":    msg.BuildID,
		"version_ref": msg.VersionRef,
		"outcome":     string(outcome),
	})
	if err != nil {
		entry.WithError(err).Error("build request finished with error")
		return
	}
	entry.Info("build request finished")
}
