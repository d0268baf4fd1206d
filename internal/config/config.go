package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment key, e.g. CHAT_PORT.
const Prefix = "chat"

type Config struct {
	Port            string        `envconfig:"PORT" default:"3001"`
	GRPCPort        string        `envconfig:"GRPC_PORT" default:"9091"`
	DefaultRoom     string        `envconfig:"DEFAULT_ROOM" default:"general"`
	HistoryCap      int           `envconfig:"HISTORY_CAP" default:"5000"`
	BacklogSize     int           `envconfig:"BACKLOG_SIZE" default:"100"`
	TypingTTL       time.Duration `envconfig:"TYPING_TTL" default:"10s"`
	WSSendBuffer    int           `envconfig:"WS_SEND_BUFFER" default:"256"`
	AMQPURL         string        `envconfig:"AMQP_URL"`
	AMQPExchange    string        `envconfig:"AMQP_EXCHANGE" default:"chat.events"`
	ArchiveDSN      string        `envconfig:"ARCHIVE_DSN"`
	OTLPEndpoint    string        `envconfig:"OTLP_ENDPOINT"`
	Environment     string        `envconfig:"ENVIRONMENT" default:"local"`
	DebugRoutes     bool          `envconfig:"DEBUG_ROUTES" default:"false"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads an optional .env file and then the CHAT_* environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.HistoryCap <= 0:
		return errors.New("HISTORY_CAP must be positive")
	case c.BacklogSize <= 0:
		return errors.New("BACKLOG_SIZE must be positive")
	case c.TypingTTL <= 0:
		return errors.New("TYPING_TTL must be positive")
	case c.WSSendBuffer <= 0:
		return errors.New("WS_SEND_BUFFER must be positive")
	}
	return nil
}
