package app

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/shrimpsizemoose/trekker/logger"
)

type HeaderConfig struct {
	Name  string `toml:"name" validate:"required"`
	Value string `toml:"value"`
}

type Config struct {
	Server struct {
		Port string `toml:"port" validate:"required"`
	} `toml:"server"`

	API struct {
		StudentIDHeader string `toml:"student_id_header"`
		GraderIDHeader  string `toml:"grader_id_header"`
		// RequiredHeaders must be present on grading callbacks.
		RequiredHeaders []HeaderConfig `toml:"required_headers" validate:"dive"`
	} `toml:"api"`

	Database struct {
		DSN           string `toml:"dsn" validate:"required"`
		MigrationsDir string `toml:"migrations_dir"`
	} `toml:"database"`

	Gradebook struct {
		RedisURL    string `toml:"redis_url"`
		NATSURL     string `toml:"nats_url"`
		NATSSubject string `toml:"nats_subject"`
	} `toml:"gradebook"`

	Attachments struct {
		Dir string `toml:"dir"`
	} `toml:"attachments"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(path, data)
}

func ParseConfig(path string, data []byte) (*Config, error) {
	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf(
			"error reading config file %s\n> Error: %w\n> Content:\n%s",
			path,
			err,
			string(data),
		)
	}
	config.setDefaults()

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	logger.Debug.Printf("Loaded database config: dsn type %s, migrations %s", dsnKind(config.Database.DSN), config.Database.MigrationsDir)

	return &config, nil
}

func (c *Config) setDefaults() {
	if c.API.StudentIDHeader == "" {
		c.API.StudentIDHeader = "X-Student-ID"
	}
	if c.API.GraderIDHeader == "" {
		c.API.GraderIDHeader = "X-Grader-ID"
	}
	if c.Database.MigrationsDir == "" {
		c.Database.MigrationsDir = "./migrations"
	}
	if c.Gradebook.NATSSubject == "" {
		c.Gradebook.NATSSubject = "semla.grades"
	}
	if c.Attachments.Dir == "" {
		c.Attachments.Dir = "./data/attachments"
	}
}
