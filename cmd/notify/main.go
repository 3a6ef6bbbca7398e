package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/garagedesk/notify/internal/copywriter"
	"github.com/garagedesk/notify/internal/email"
	"github.com/garagedesk/notify/internal/messaging"
	"github.com/garagedesk/notify/internal/models"
	"github.com/garagedesk/notify/internal/orchestrator"
	"github.com/garagedesk/notify/internal/store"
	"github.com/garagedesk/notify/internal/twilioapi"
	"github.com/garagedesk/notify/internal/util"
	"github.com/garagedesk/notify/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for notify state data
	DefaultStateDir = "/var/lib/garagenotify"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "notify.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	engine, cleanup, err := buildEngine(flags)
	if err != nil {
		slog.Error("Failed to build notification engine", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := run(engine, flags); err != nil {
		slog.Error("notify failed", "error", err)
		os.Exit(1)
	}
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	Sandbox     bool
}

// Flags holds command line flag values
type Flags struct {
	// actions
	broadcastFile *string
	history       *string
	otp           *bool

	// recipient
	toPhone *string
	country *string
	toEmail *string
	toName  *string
	prefer  *string

	// notification content
	kind       *string
	service    *string
	location   *string
	when       *string
	vehicle    *string
	status     *string
	bidOK      *bool
	bidAmount  *string
	promoTitle *string
	promoBody  *string

	// infrastructure
	stateDir      *string
	dbDSN         *string
	chatTransport *string
	sandbox       *bool
	qrOutput      *string
	numeric       *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("NOTIFY_STATE_DIR"),
		Sandbox:     util.ParseBoolEnv("NOTIFY_SANDBOX", false),
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No NOTIFY_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		broadcastFile: flag.String("broadcast", "", "path to a JSON file of recipients for a promo broadcast"),
		history:       flag.String("history", "", "print recent delivery records for a recipient address and exit"),
		otp:           flag.Bool("otp", false, "send a one-time verification code instead of a notification"),

		toPhone: flag.String("to-phone", "", "recipient phone number (national format)"),
		country: flag.String("country", "", "recipient country calling code, e.g. +44"),
		toEmail: flag.String("to-email", "", "recipient email address"),
		toName:  flag.String("to-name", "", "recipient display name"),
		prefer:  flag.String("prefer", "whatsapp", "preferred channel: whatsapp, email, or sms"),

		kind:       flag.String("kind", "status_update", "notification kind"),
		service:    flag.String("service", "", "service name for appointment notifications"),
		location:   flag.String("location", "", "garage location name"),
		when:       flag.String("when", "", "appointment time, RFC 3339"),
		vehicle:    flag.String("vehicle", "", "vehicle description"),
		status:     flag.String("status", "", "status text for status updates"),
		bidOK:      flag.Bool("bid-accepted", false, "bid result outcome"),
		bidAmount:  flag.String("bid-amount", "", "agreed bid amount"),
		promoTitle: flag.String("promo-title", "", "promotion title"),
		promoBody:  flag.String("promo-body", "", "promotion body copy"),

		stateDir:      flag.String("state-dir", config.StateDir, "state directory for notify data (overrides $NOTIFY_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "audit log database DSN (overrides $DATABASE_URL)"),
		chatTransport: flag.String("chat-transport", "twilio", "WhatsApp transport: twilio or whatsmeow"),
		sandbox:       flag.Bool("sandbox", config.Sandbox, "use in-process mock providers, no network calls (overrides $NOTIFY_SANDBOX)"),
		qrOutput:      flag.String("qr-output", "", "path to write the whatsmeow login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use a numeric whatsmeow login code instead of a QR code"),
	}
	flag.Parse()

	slog.Debug("flags parsed",
		"broadcast", *flags.broadcastFile,
		"history", *flags.history,
		"otp", *flags.otp,
		"prefer", *flags.prefer,
		"kind", *flags.kind,
		"chatTransport", *flags.chatTransport,
		"sandbox", *flags.sandbox,
		"dbDSN_set", *flags.dbDSN != "")
	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		dir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}
	return nil
}

// buildStoreOptions constructs audit store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL audit store", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite audit store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory audit store")
	}
	return storeOpts
}

// buildAuditRepo opens the audit log backend selected by the DSN.
func buildAuditRepo(flags Flags) (store.AuditRepo, func(), error) {
	storeOpts := buildStoreOptions(flags)
	if len(storeOpts) == 0 {
		return store.NewInMemoryStore(), func() {}, nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		pg, err := store.NewPostgresStore(storeOpts...)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { pg.Close() }, nil
	}
	sq, err := store.NewSQLiteStore(storeOpts...)
	if err != nil {
		return nil, nil, err
	}
	return sq, func() { sq.Close() }, nil
}

// buildChatSender selects the WhatsApp transport: mock in sandbox mode,
// whatsmeow when requested, Twilio otherwise.
func buildChatSender(flags Flags) (messaging.ChatSender, func(), error) {
	if *flags.sandbox || (!twilioapi.HasCredentials() && *flags.chatTransport == "twilio") {
		slog.Info("Using sandbox chat transport, no messages will leave the process")
		return twilioapi.NewMockClient(), func() {}, nil
	}
	if *flags.chatTransport == "whatsmeow" {
		var waOpts []whatsapp.Option
		waOpts = append(waOpts, whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsmeow.db")))
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { client.Disconnect() }, nil
	}
	client, err := twilioapi.NewClient()
	if err != nil {
		return nil, nil, err
	}
	return client, func() {}, nil
}

// buildEmailSender selects the email provider: mock in sandbox mode or
// without credentials, SendGrid otherwise.
func buildEmailSender(flags Flags) (email.Sender, error) {
	if *flags.sandbox || !email.HasCredentials() {
		slog.Info("Using sandbox email provider, no messages will leave the process")
		return &email.MockClient{}, nil
	}
	return email.NewClient()
}

// buildEngine wires adapters, audit store, and copywriter into the engine.
func buildEngine(flags Flags) (*orchestrator.Engine, func(), error) {
	audit, closeAudit, err := buildAuditRepo(flags)
	if err != nil {
		return nil, nil, err
	}
	chat, closeChat, err := buildChatSender(flags)
	if err != nil {
		closeAudit()
		return nil, nil, err
	}
	mail, err := buildEmailSender(flags)
	if err != nil {
		closeChat()
		closeAudit()
		return nil, nil, err
	}

	retryCfg := models.RetryConfig{
		InitialDelay:      time.Duration(util.ParseIntEnv("NOTIFY_RETRY_DELAY", 1000)) * time.Millisecond,
		MaxDelay:          time.Duration(util.ParseIntEnv("NOTIFY_MAX_RETRY_DELAY", 30000)) * time.Millisecond,
		MaxRetries:        util.ParseIntEnv("NOTIFY_MAX_RETRIES", 3),
		BackoffMultiplier: util.ParseFloatEnv("NOTIFY_BACKOFF_MULTIPLIER", 2.0),
	}
	breakerCfg := models.BreakerConfig{
		FailureThreshold: util.ParseIntEnv("NOTIFY_CIRCUIT_THRESHOLD", 5),
		RecoveryTimeout:  time.Duration(util.ParseIntEnv("NOTIFY_CIRCUIT_RECOVERY_MIN", 5)) * time.Minute,
	}

	engineOpts := []orchestrator.Option{
		orchestrator.WithRetryConfig(retryCfg),
		orchestrator.WithBreakerConfig(breakerCfg),
		orchestrator.WithAdapter(messaging.NewWhatsAppAdapter(chat)),
		orchestrator.WithAdapter(messaging.NewEmailAdapter(mail, os.Getenv("SENDGRID_FROM_EMAIL"))),
		orchestrator.WithAuditRepo(audit),
		orchestrator.WithBroadcastDelay(time.Duration(util.ParseIntEnv("NOTIFY_BROADCAST_DELAY_MS", 250)) * time.Millisecond),
	}
	// SMS rides on the same Twilio account when the chat transport is Twilio.
	if sms, ok := chat.(messaging.SMSSender); ok {
		engineOpts = append(engineOpts, orchestrator.WithAdapter(messaging.NewSMSAdapter(sms)))
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		engineOpts = append(engineOpts, orchestrator.WithCopywriter(copywriter.NewWriter()))
	}

	cleanup := func() {
		closeChat()
		closeAudit()
	}
	return orchestrator.New(engineOpts...), cleanup, nil
}

// buildNotification assembles the notification described by the flags.
func buildNotification(flags Flags) (models.Notification, error) {
	n := models.Notification{
		Kind:         models.NotificationKind(*flags.kind),
		ServiceName:  *flags.service,
		LocationName: *flags.location,
		VehicleDesc:  *flags.vehicle,
		Status:       *flags.status,
		BidAccepted:  *flags.bidOK,
		BidAmount:    *flags.bidAmount,
		PromoTitle:   *flags.promoTitle,
		PromoBody:    *flags.promoBody,
	}
	if *flags.when != "" {
		at, err := time.Parse(time.RFC3339, *flags.when)
		if err != nil {
			return n, fmt.Errorf("invalid -when value %q: %w", *flags.when, err)
		}
		n.AppointmentTime = at
	}
	return n, n.Validate()
}

// buildContact assembles the recipient described by the flags.
func buildContact(flags Flags) models.UserContactInfo {
	return models.UserContactInfo{
		Email:            *flags.toEmail,
		Phone:            *flags.toPhone,
		CountryCode:      *flags.country,
		PreferredChannel: models.Channel(strings.ToLower(*flags.prefer)),
		Name:             *flags.toName,
	}
}

// loadRecipients reads a JSON array of contact records.
func loadRecipients(path string) ([]models.UserContactInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipients file: %w", err)
	}
	var recipients []models.UserContactInfo
	if err := json.Unmarshal(data, &recipients); err != nil {
		return nil, fmt.Errorf("failed to parse recipients file: %w", err)
	}
	return recipients, nil
}

// run executes the action selected by the flags.
func run(engine *orchestrator.Engine, flags Flags) error {
	ctx := context.Background()

	switch {
	case *flags.history != "":
		records, err := engine.History(*flags.history, 0)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil

	case *flags.broadcastFile != "":
		recipients, err := loadRecipients(*flags.broadcastFile)
		if err != nil {
			return err
		}
		n, err := buildNotification(flags)
		if err != nil {
			return err
		}
		summary := engine.Broadcast(ctx, recipients, n)
		return printJSON(summary)

	case *flags.otp:
		code, result := engine.SendOTP(ctx, buildContact(flags))
		slog.Info("OTP send finished", "success", result.Success, "channel", result.Channel, "code_generated", code != "")
		return printJSON(result)

	default:
		n, err := buildNotification(flags)
		if err != nil {
			return err
		}
		result := engine.SendNotification(ctx, buildContact(flags), n)
		if err := printJSON(result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("delivery failed: %s", result.Message)
		}
		return nil
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
