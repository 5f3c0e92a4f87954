package main

import (
	"context"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yasarts/reunion-live/internal/config"
	"github.com/yasarts/reunion-live/internal/server"
	"github.com/yasarts/reunion-live/internal/session"
	"github.com/yasarts/reunion-live/internal/store"
	"github.com/yasarts/reunion-live/internal/ws"
)

func main() {
	// -----------------------------------------------------------------------
	// Configuration.
	// -----------------------------------------------------------------------
	godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	}

	// -----------------------------------------------------------------------
	// Persistence gateway: MongoDB when a URI is configured, otherwise the
	// in-memory store (nothing survives a restart).
	// -----------------------------------------------------------------------
	var st store.Store
	if cfg.Mongo.URI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		clientOpts := options.Client().ApplyURI(cfg.Mongo.URI)
		mongoClient, err := mongo.Connect(ctx, clientOpts)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to MongoDB")
		}
		defer func() {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				log.WithError(err).Warn("error disconnecting from MongoDB")
			}
		}()

		if err := mongoClient.Ping(ctx, nil); err != nil {
			log.WithError(err).Fatal("failed to ping MongoDB")
		}
		log.WithField("database", cfg.Mongo.Database).Info("connected to MongoDB")

		st = store.NewMongo(mongoClient.Database(cfg.Mongo.Database))
	} else {
		log.Warn("no Mongo URI configured, using in-memory store")
		st = store.NewMemory()
	}

	// -----------------------------------------------------------------------
	// WebSocket hub and session facade.
	// -----------------------------------------------------------------------
	hub := ws.NewHub(log)
	go hub.Run()

	facade := session.New(st, hub, log)

	// -----------------------------------------------------------------------
	// HTTP server.
	// -----------------------------------------------------------------------
	router := server.NewServer(facade, hub, cfg.Auth.JWTSecret, log)

	log.WithField("port", cfg.Server.Port).Info("reunion-live starting")
	if err := http.ListenAndServe(":"+cfg.Server.Port, router); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}
