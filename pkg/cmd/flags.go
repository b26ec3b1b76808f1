package cmd

import (
	"github.com/dukex/flowrun/pkg/blobstore"
	cli "github.com/urfave/cli/v3"
)

// EngineFlags are the connection flags shared by every binary that builds
// an Engine.
func EngineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres:// or a file path)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the shared cache, rate limiter and broadcasts",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "blob-url",
			Usage:   "Blob store for large node outputs (s3://bucket or file:///path)",
			Sources: cli.EnvVars("BLOB_URL"),
		},
		&cli.StringFlag{
			Name:    "s3-region",
			Value:   "us-east-1",
			Sources: cli.EnvVars("AWS_REGION"),
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			Usage:   "Endpoint of an S3 compatible store",
			Sources: cli.EnvVars("S3_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "s3-access-key",
			Sources: cli.EnvVars("AWS_ACCESS_KEY_ID"),
		},
		&cli.StringFlag{
			Name:    "s3-secret-key",
			Sources: cli.EnvVars("AWS_SECRET_ACCESS_KEY"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// EngineOptionsFromCommand reads EngineFlags.
func EngineOptionsFromCommand(command *cli.Command, serviceName string) EngineOptions {
	return EngineOptions{
		DatabaseURL:      command.String("database-url"),
		RedisURL:         command.String("redis-url"),
		BlobURL:          command.String("blob-url"),
		EventBusProvider: command.String("event-bus"),
		KafkaBrokers:     command.String("kafka-brokers"),
		ServiceName:      serviceName,
		S3: blobstore.S3Config{
			Region:    command.String("s3-region"),
			Endpoint:  command.String("s3-endpoint"),
			AccessKey: command.String("s3-access-key"),
			SecretKey: command.String("s3-secret-key"),
		},
	}
}
