package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/semla/internal/aggregate"
	"github.com/shrimpsizemoose/semla/internal/attachments"
	"github.com/shrimpsizemoose/semla/internal/gradebook"
	"github.com/shrimpsizemoose/semla/internal/lifecycle"
	"github.com/shrimpsizemoose/semla/internal/scoring"
	"github.com/shrimpsizemoose/semla/internal/store"
)

type Service struct {
	Config      *Config
	Store       store.SubmissionStore
	Gradebook   *gradebook.Fanout
	Aggregator  *aggregate.Aggregator
	Submissions *lifecycle.Service

	closers []func() error
}

func NewService(configPath string) (*Service, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewServiceFromConfig(context.Background(), config)
}

func NewServiceFromConfig(ctx context.Context, config *Config) (*Service, error) {
	st, err := NewStore(store.DBConfig{DSN: config.Database.DSN, MigrationsDir: config.Database.MigrationsDir})
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	s := &Service{Config: config, Store: st, Gradebook: gradebook.NewFanout()}
	s.closers = append(s.closers, st.Close)

	if url := config.Gradebook.RedisURL; url != "" {
		client, err := gradebook.ConnectRedis(ctx, url)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to init gradebook: %w", err)
		}
		s.Gradebook.Add("redis", gradebook.NewRedisBook(client))
		s.closers = append(s.closers, client.Close)
	}
	if url := config.Gradebook.NATSURL; url != "" {
		conn, err := gradebook.ConnectNATS(url)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to init grade events: %w", err)
		}
		s.Gradebook.Add("nats", gradebook.NewNATSPublisher(conn, config.Gradebook.NATSSubject))
		s.closers = append(s.closers, func() error { return conn.Drain() })
	}
	if s.Gradebook.Len() == 0 {
		logger.Info.Println("No gradebook sinks configured, grades are kept in the database only")
	}

	files, err := attachments.NewFSStore(config.Attachments.Dir)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to init attachments: %w", err)
	}

	s.Aggregator = aggregate.NewAggregator(st, s.Gradebook)
	s.Submissions = lifecycle.NewService(st, scoring.NewEngine(st), s.Aggregator, files, nil)
	return s, nil
}

// ValidateHeaders checks the headers every grading callback must carry.
func (s *Service) ValidateHeaders(headers map[string][]string) bool {
	for _, required := range s.Config.API.RequiredHeaders {
		value := headers[http.CanonicalHeaderKey(required.Name)]
		if len(value) == 0 || !strings.EqualFold(value[0], required.Value) {
			return false
		}
	}
	return true
}

func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
