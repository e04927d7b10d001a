// Package config loads pipeline configuration the way the teacher's
// internal/config package does - via viper - but sourced from the
// environment per spec §6, with an optional YAML override file for
// local development unmarshalled into the same struct.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	RabbitMQ RabbitMQConfig `mapstructure:",squash"`
	Queues   QueueConfig    `mapstructure:",squash"`
	ES       ESConfig       `mapstructure:",squash"`
	Mongo    MongoConfig    `mapstructure:",squash"`

	MaxWorkers int    `mapstructure:"max_workers"`
	Machine    string `mapstructure:"machine"`

	DocBatchSize   int `mapstructure:"doc_batch_size"`
	EmbedBatchSize int `mapstructure:"embed_batch_size"`
	IndexBatchSize int `mapstructure:"index_batch_size"`

	EmbedderURL string `mapstructure:"embedder_url"`

	Log LogConfig `mapstructure:"log"`
}

type RabbitMQConfig struct {
	Host       string `mapstructure:"rabbitmq_host"`
	User       string `mapstructure:"rabbitmq_user"`
	Password   string `mapstructure:"rabbitmq_password"`
	RetryDelay int    `mapstructure:"rabbitmq_retry_delay"`

	// MQTTPort is the telemetry bus's port on the same broker host
	// (original_source/logger.py pins this to 1883, distinct from the
	// AMQP port folded into Host).
	MQTTPort int `mapstructure:"mqtt_port"`
}

type QueueConfig struct {
	Download      string `mapstructure:"download_queue"`
	Vectorization string `mapstructure:"vectorization_queue"`
	Indexing      string `mapstructure:"indexing_queue"`
}

type ESConfig struct {
	Hosts []string `mapstructure:"es_hosts"`
	Index string   `mapstructure:"es_index"`
	Dims  int      `mapstructure:"es_dims"`
}

type MongoConfig struct {
	Host    string `mapstructure:"mongo_host"`
	Port    string `mapstructure:"mongo_port"`
	User    string `mapstructure:"mongo_user"`
	Pass    string `mapstructure:"mongo_pass"`
	AuthSrc string `mapstructure:"mongo_auth_src"`
}

type LogConfig struct {
	Path          string `mapstructure:"path"`
	Level         string `mapstructure:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout"`
}

// Load reads configuration from the environment, optionally layered
// under a YAML override file when path is non-empty.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("rabbitmq_retry_delay", 5)
	v.SetDefault("mqtt_port", 1883)
	v.SetDefault("download_queue", "downloads")
	v.SetDefault("vectorization_queue", "vectorize")
	v.SetDefault("indexing_queue", "index")
	v.SetDefault("es_index", "pages")
	v.SetDefault("es_dims", 384)
	v.SetDefault("max_workers", 8)
	v.SetDefault("machine", hostnameOrDefault())
	v.SetDefault("doc_batch_size", 1000)
	v.SetDefault("embed_batch_size", 512)
	v.SetDefault("index_batch_size", 1000)
	v.SetDefault("embedder_url", "http://localhost:8500")
	v.SetDefault("log.path", "frvec.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("mongo_host", "localhost")
	v.SetDefault("mongo_port", "27017")
	v.SetDefault("mongo_auth_src", "admin")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file %s: %w", path, err)
			}
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"rabbitmq_host", "rabbitmq_user", "rabbitmq_password", "rabbitmq_retry_delay", "mqtt_port",
		"download_queue", "vectorization_queue", "indexing_queue",
		"es_hosts", "es_index", "es_dims",
		"mongo_host", "mongo_port", "mongo_user", "mongo_pass", "mongo_auth_src",
		"max_workers", "machine", "embedder_url",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if hosts := v.GetString("es_hosts"); hosts != "" && len(cfg.ES.Hosts) == 0 {
		cfg.ES.Hosts = strings.Split(hosts, ",")
	}
	if len(cfg.ES.Hosts) == 0 {
		cfg.ES.Hosts = []string{"http://localhost:9200"}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RabbitMQ.Host == "" {
		return errors.New("RABBITMQ_HOST is required")
	}
	if c.RabbitMQ.RetryDelay <= 0 {
		c.RabbitMQ.RetryDelay = 5
	}
	if c.RabbitMQ.MQTTPort <= 0 {
		c.RabbitMQ.MQTTPort = 1883
	}
	if c.Queues.Download == "" || c.Queues.Vectorization == "" || c.Queues.Indexing == "" {
		return errors.New("DOWNLOAD_QUEUE, VECTORIZATION_QUEUE and INDEXING_QUEUE are required")
	}
	if c.ES.Dims <= 0 {
		c.ES.Dims = 384
	}
	if c.DocBatchSize <= 0 {
		c.DocBatchSize = 1000
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 512
	}
	if c.IndexBatchSize <= 0 {
		c.IndexBatchSize = 1000
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 8
	}
	return nil
}

// AMQPURL assembles the amqp091-go dial URL from the discrete
// RabbitMQ fields.
func (c *Config) AMQPURL() string {
	if c.RabbitMQ.User == "" {
		return fmt.Sprintf("amqp://%s", c.RabbitMQ.Host)
	}
	return fmt.Sprintf("amqp://%s:%s@%s", c.RabbitMQ.User, c.RabbitMQ.Password, c.RabbitMQ.Host)
}

// MQTTURL assembles the telemetry bus's broker URL: same host as AMQP,
// on MQTTPort instead of the AMQP port folded into RabbitMQ.Host
// (original_source/logger.py: same BROKER host, PORT = 1883).
func (c *Config) MQTTURL() string {
	host, _, err := net.SplitHostPort(c.RabbitMQ.Host)
	if err != nil {
		host = c.RabbitMQ.Host
	}
	return fmt.Sprintf("tcp://%s:%d", host, c.RabbitMQ.MQTTPort)
}

// MongoURI assembles the Mongo connection URI from the discrete fields.
func (c *Config) MongoURI() string {
	if c.Mongo.User == "" {
		return fmt.Sprintf("mongodb://%s:%s", c.Mongo.Host, c.Mongo.Port)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%s/?authSource=%s",
		c.Mongo.User, c.Mongo.Pass, c.Mongo.Host, c.Mongo.Port, c.Mongo.AuthSrc)
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "worker"
	}
	return h
}
