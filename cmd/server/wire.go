package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"go.uber.org/zap"

	alertrepo "safecircle/internal/alert/repository"
	attentionrepo "safecircle/internal/attention/repository"
	auditrepo "safecircle/internal/audit/repository"
	checkinrepo "safecircle/internal/checkin/repository"
	"safecircle/internal/config"
	"safecircle/internal/db"
	fanoutrepo "safecircle/internal/fanout/repository"
	"safecircle/internal/fanout/policy"
	"safecircle/internal/notify"
	"safecircle/internal/notify/email"
	"safecircle/internal/notify/push"
	"safecircle/internal/notify/sms"
	"safecircle/internal/profile"
	responserepo "safecircle/internal/response/repository"
)

// stores groups the repositories selected by STORE_DRIVER.
type stores struct {
	conn       *sql.DB
	checkins   checkinrepo.Repository
	alerts     alertrepo.Repository
	responses  responserepo.Repository
	attention  attentionrepo.Repository
	deliveries fanoutrepo.Repository
	audit      auditrepo.Repository
}

func openStores(cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == config.StorePostgres {
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return &stores{
			conn:       conn,
			checkins:   checkinrepo.NewPostgresRepository(conn),
			alerts:     alertrepo.NewPostgresRepository(conn),
			responses:  responserepo.NewPostgresRepository(conn),
			attention:  attentionrepo.NewPostgresRepository(conn),
			deliveries: fanoutrepo.NewPostgresRepository(conn),
			audit:      auditrepo.NewPostgresRepository(conn),
		}, nil
	}
	alerts := alertrepo.NewMemoryRepository()
	return &stores{
		checkins:   checkinrepo.NewMemoryRepository(alerts),
		alerts:     alerts,
		responses:  responserepo.NewMemoryRepository(),
		attention:  attentionrepo.NewMemoryRepository(),
		deliveries: fanoutrepo.NewMemoryRepository(),
		audit:      auditrepo.NewMemoryRepository(),
	}, nil
}

func newDirectory(cfg *config.Config) (profile.Source, error) {
	if cfg.ProfileServiceURL != "" {
		return profile.NewCached(profile.NewHTTPClient(cfg.ProfileServiceURL), cfg.ProfileCacheSize, cfg.ProfileCacheTTL), nil
	}
	if cfg.ProfileStaticFile != "" {
		return profile.LoadStatic(cfg.ProfileStaticFile)
	}
	return profile.NewStatic(nil), nil
}

func newSenders(cfg *config.Config, logger *zap.Logger) (*notify.Registry, error) {
	var senders []notify.Sender
	if cfg.PushGatewayURL != "" {
		senders = append(senders, push.NewClient(cfg.PushGatewayURL, cfg.PushAPIKey))
	}
	if cfg.SMSLocalAPIKey != "" {
		senders = append(senders, sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender))
	}
	if cfg.SMTPHost != "" {
		s, err := email.NewSender(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	reg := notify.NewRegistry(senders...)
	if len(senders) == 0 {
		logger.Warn("no notification channels configured; alerts will be recorded but not delivered")
	}
	return reg, nil
}

// newPlanner returns the channel planner. With FANOUT_POLICY_FILE set the Rego module is loaded
// from disk; otherwise the embedded default policy is used.
func newPlanner(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*policy.OPAPlanner, error) {
	module := ""
	if cfg.FanoutPolicyFile != "" {
		b, err := os.ReadFile(cfg.FanoutPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("read fanout policy: %w", err)
		}
		module = string(b)
	}
	return policy.NewOPAPlanner(ctx, module, logger)
}
