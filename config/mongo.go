package config

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var MongoClient *mongo.Client

// MongoSettings configures the session archive connection.
type MongoSettings struct {
	URI                    string
	Database               string
	MaxPoolSize            int
	MinPoolSize            int
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	// Atlas clusters reject some Go 1.24 TLS handshakes unless pinned to 1.2
	ForceTLS12  bool
	InsecureTLS bool
}

func LoadMongoSettings() MongoSettings {
	return MongoSettings{
		URI:                    envString("MONGO_URI", ""),
		Database:               envString("MONGO_DB", "yoointerview"),
		MaxPoolSize:            envInt("MONGO_MAX_POOL", 10),
		MinPoolSize:            envInt("MONGO_MIN_POOL", 1),
		ConnectTimeout:         envDuration("MONGO_CONNECT_TIMEOUT", 15*time.Second),
		ServerSelectionTimeout: envDuration("MONGO_SERVER_SELECTION_TIMEOUT", 20*time.Second),
		ForceTLS12:             envString("MONGO_FORCE_TLS_CONFIG", "") == "true" || envString("GO_ENV", "") == "development",
		InsecureTLS:            envString("MONGO_INSECURE_TLS", "") == "true",
	}
}

func (s MongoSettings) clientOptions() *options.ClientOptions {
	opts := options.Client().ApplyURI(s.URI).
		SetAppName("yoointerview-archive").
		SetServerSelectionTimeout(s.ServerSelectionTimeout).
		SetConnectTimeout(s.ConnectTimeout).
		SetMaxPoolSize(uint64(s.MaxPoolSize)).
		SetMinPoolSize(uint64(s.MinPoolSize))

	if s.ForceTLS12 {
		opts = opts.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: s.InsecureTLS,
			MinVersion:         tls.VersionTLS12,
			MaxVersion:         tls.VersionTLS12,
		})
	}
	return opts
}

// InitMongo connects the archive client and pings it.
func InitMongo() error {
	s := LoadMongoSettings()
	if s.URI == "" {
		return errors.New("MONGO_URI environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ConnectTimeout+s.ServerSelectionTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, s.clientOptions())
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return err
	}

	MongoClient = client
	return nil
}
