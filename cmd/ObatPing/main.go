// ObatPing is a WhatsApp medication reminder service for cancer patients.
//
// It receives inbound gateway events over HTTP, routes them through the
// conversational pipeline, and delivers replies through a durable outbox.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RumahPulih/ObatPing/internal/api"
	"github.com/RumahPulih/ObatPing/internal/config"
	"github.com/RumahPulih/ObatPing/internal/flow"
	"github.com/RumahPulih/ObatPing/internal/genai"
	"github.com/RumahPulih/ObatPing/internal/lockfile"
	"github.com/RumahPulih/ObatPing/internal/messaging"
	"github.com/RumahPulih/ObatPing/internal/metrics"
	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/RumahPulih/ObatPing/internal/store"
	"github.com/RumahPulih/ObatPing/internal/twiliowhatsapp"
	"github.com/RumahPulih/ObatPing/internal/whatsapp"
	"github.com/joho/godotenv"
)

// appStore is the full persistence surface the pipeline needs.
type appStore interface {
	store.Store
	store.DedupRepo
	store.OutboxRepo
}

type flags struct {
	configPath  string
	addr        string
	dbDSN       string
	stateDir    string
	qrOutput    string
	numericCode bool
	debug       bool
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var f flags
	flag.StringVar(&f.configPath, "config", os.Getenv("OBATPING_CONFIG"), "path to YAML config file (overrides $OBATPING_CONFIG)")
	flag.StringVar(&f.addr, "addr", "", "API listen address (overrides config)")
	flag.StringVar(&f.dbDSN, "db-dsn", "", "database DSN, SQLite path or postgres:// URL (overrides config)")
	flag.StringVar(&f.stateDir, "state-dir", "", "state directory (overrides config)")
	flag.StringVar(&f.qrOutput, "qr-output", "", "path to write the WhatsApp login QR code")
	flag.BoolVar(&f.numericCode, "numeric-code", false, "use a numeric WhatsApp login code instead of a QR code")
	flag.BoolVar(&f.debug, "debug", false, "enable debug logging (overrides config)")
	flag.Parse()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.dbDSN != "" {
		cfg.Database.DSN = f.dbDSN
	}
	if f.stateDir != "" {
		cfg.StateDir = f.stateDir
	}
	if f.debug {
		cfg.Debug = true
	}

	initLogger(cfg.Debug)

	if err := run(cfg, f); err != nil {
		slog.Error("ObatPing failed", "error", err)
		os.Exit(1)
	}
	slog.Info("ObatPing exited")
}

func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func run(cfg *config.Config, f flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lock, err := lockfile.Acquire(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := buildMessagingService(cfg, f)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer svc.Stop()

	router := buildRouter(cfg, st)

	outbox := store.NewOutboxSender(st, func(ctx context.Context, msg store.OutboxMessage) error {
		to, err := svc.ValidateAndCanonicalizeRecipient(msg.Recipient)
		if err != nil {
			metrics.OutboundMessages.WithLabelValues("invalid_recipient").Inc()
			return err
		}
		if err := svc.SendMessage(ctx, to, msg.Body); err != nil {
			metrics.OutboundMessages.WithLabelValues("failed").Inc()
			return err
		}
		metrics.OutboundMessages.WithLabelValues("sent").Inc()
		return nil
	}, cfg.Outbox.PollInterval.Std(), cfg.Outbox.SendRate)
	if err := outbox.RecoverStaleMessages(); err != nil {
		return fmt.Errorf("failed to recover stale outbox messages: %w", err)
	}
	go outbox.Run(ctx)

	go consumeResponses(ctx, svc, router)
	go consumeReceipts(ctx, svc, st)

	server := api.NewServer(router, st, api.WithAddr(cfg.Server.Addr), api.WithAPIToken(cfg.Server.APIToken))
	return server.Run(ctx)
}

func openStore(dsn string) (appStore, error) {
	switch store.DetectDSNType(dsn) {
	case "postgres":
		slog.Info("using PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	default:
		slog.Info("using SQLite store", "path", dsn)
		return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	}
}

func buildMessagingService(cfg *config.Config, f flags) (messaging.Service, error) {
	switch cfg.Messaging.Backend {
	case config.BackendTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.Messaging.Twilio.AccountSID),
			twiliowhatsapp.WithAuthToken(cfg.Messaging.Twilio.AuthToken),
			twiliowhatsapp.WithFromWhats(cfg.Messaging.Twilio.FromNumber),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	default:
		opts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.Messaging.WhatsmeowDBPath)}
		if f.qrOutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(f.qrOutput))
		}
		if f.numericCode {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	}
}

func buildRouter(cfg *config.Config, st appStore) *flow.Router {
	var classifier flow.IntentClassifier
	if cfg.OpenAI.APIKey != "" {
		client, err := genai.NewClient(genai.WithAPIKey(cfg.OpenAI.APIKey), genai.WithModel(cfg.OpenAI.Model))
		if err != nil {
			slog.Error("failed to create AI gateway, falling back to acknowledgements", "error", err)
		} else {
			classifier = client
		}
	} else {
		slog.Warn("no OpenAI API key configured, free-form messages get the fallback reply")
	}

	cm := flow.NewConversationManager(st)
	sender := flow.NewOutboxReplySender(st)
	return flow.NewRouter(
		st,
		flow.NewResolver(st),
		cm,
		flow.NewVerificationFlow(st, cm, sender),
		flow.NewConfirmationFlow(st, cm, sender),
		classifier,
		flow.NewActionExecutor(st),
		sender,
		cfg.DedupWindow.Std(),
	)
}

// consumeResponses feeds messages received directly over the transport (for
// example whatsmeow) through the same pipeline as webhook events.
func consumeResponses(ctx context.Context, svc messaging.Service, router *flow.Router) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-svc.Responses():
			if !ok {
				return
			}
			ev := &models.InboundEvent{
				Sender:    resp.From,
				Message:   resp.Body,
				Timestamp: time.Unix(resp.Time, 0),
			}
			if _, err := router.Route(ctx, ev); err != nil {
				slog.Error("failed to route transport message", "error", err, "sender", resp.From)
			}
		}
	}
}

// consumeReceipts promotes reminders to delivered when the transport reports
// delivery or read receipts.
func consumeReceipts(ctx context.Context, svc messaging.Service, st appStore) {
	resolver := flow.NewResolver(st)
	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-svc.Receipts():
			if !ok {
				return
			}
			if receipt.Status != models.StatusTypeDelivered && receipt.Status != models.StatusTypeRead {
				continue
			}
			patient, err := resolver.Resolve(receipt.To)
			if err != nil || patient == nil {
				continue
			}
			if _, err := st.MarkReminderDelivered(patient.ID, time.Unix(receipt.Time, 0)); err != nil {
				slog.Error("failed to mark reminder delivered", "error", err, "patientID", patient.ID)
			}
		}
	}
}
