package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host            string
		Address         string
		DebugHost       string
		ShutdownTimeout time.Duration
	}

	DatabaseConfig struct {
		// Driver selects the profile store: "sqlx" (lib/pq), "pgx", "postgrest" or "inmem".
		Driver        string
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	SupabaseConfig struct {
		URL         string
		AnonKey     string
		JWTSecret   string
		PhotoBucket string
	}

	ProvisioningConfig struct {
		StepTimeout      time.Duration
		LockTTL          time.Duration
		OpsEmail         string
		SendWelcomeEmail bool
	}

	Config struct {
		Env              string
		Build            string
		AppName          string
		Debug            bool
		TestMode         bool
		WorkDir          string
		FrontendBaseURL  string
		RollbarToken     string
		SendgridApiKey   string
		RedisURL         string
		DefaultFromEmail mail.Address

		Server       ServerConfig
		Database     DatabaseConfig
		Supabase     SupabaseConfig
		Provisioning ProvisioningConfig
	}
)

const (
	DefaultStepTimeout = 30 * time.Second

	// ProvisioningSteps is the most remote calls one attempt makes:
	// two lookups, upload, sign up, sign in, profile insert and refresh.
	ProvisioningSteps = 7
)

// AttemptLockTTL is LockTTL, raised to outlast an attempt whose every step hits StepTimeout.
func (pc ProvisioningConfig) AttemptLockTTL() time.Duration {
	worst := time.Duration(ProvisioningSteps+1) * pc.StepTimeout
	if pc.LockTTL < worst {
		return worst
	}
	return pc.LockTTL
}

// Address returns the database "host:port".
func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, dc.Port)
}

// NewConfig loads the configuration from (in order of precedence) environment variables,
// an optional `config/.env.<env>` file and defaults.
// Environment variables are prefixed with the current ENV, eg. `DEV_DATABASE_HOST`.
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("build", "develop")
	conf.SetDefault("appName", "Presence")
	conf.SetDefault("frontendBaseURL", "http://localhost:8081")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("sendgridApiKey", "")
	conf.SetDefault("redisURL", "")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")

	conf.SetDefault("server.host", "localhost")
	conf.SetDefault("server.address", ":8000")
	conf.SetDefault("server.debugHost", ":4000")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)

	conf.SetDefault("database.driver", "sqlx")
	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", "5432")
	conf.SetDefault("database.name", "presence")
	conf.SetDefault("database.user", "presence")
	conf.SetDefault("database.password", "")
	conf.SetDefault("database.adminUser", "")
	conf.SetDefault("database.adminPassword", "")
	conf.SetDefault("database.disableTLS", true)

	conf.SetDefault("supabase.url", "")
	conf.SetDefault("supabase.anonKey", "")
	conf.SetDefault("supabase.jwtSecret", "")
	conf.SetDefault("supabase.photoBucket", "student-photos")

	conf.SetDefault("provisioning.stepTimeout", DefaultStepTimeout)
	conf.SetDefault("provisioning.lockTTL", 2*time.Minute)
	conf.SetDefault("provisioning.opsEmail", "")
	conf.SetDefault("provisioning.sendWelcomeEmail", false)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Env:              env,
		Build:            conf.GetString("build"),
		AppName:          conf.GetString("appName"),
		Debug:            conf.GetBool("debug"),
		TestMode:         conf.GetBool("testMode"),
		WorkDir:          wd,
		FrontendBaseURL:  conf.GetString("frontendBaseURL"),
		RollbarToken:     conf.GetString("rollbarToken"),
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		RedisURL:         conf.GetString("redisURL"),
		DefaultFromEmail: mail.Address{Name: conf.GetString("appName"), Address: conf.GetString("defaultFromEmail")},
		Server: ServerConfig{
			Host:            conf.GetString("server.host"),
			Address:         conf.GetString("server.address"),
			DebugHost:       conf.GetString("server.debugHost"),
			ShutdownTimeout: conf.GetDuration("server.shutdownTimeout"),
		},
		Database: DatabaseConfig{
			Driver:        conf.GetString("database.driver"),
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetString("database.port"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
		},
		Supabase: SupabaseConfig{
			URL:         strings.TrimRight(conf.GetString("supabase.url"), "/"),
			AnonKey:     conf.GetString("supabase.anonKey"),
			JWTSecret:   conf.GetString("supabase.jwtSecret"),
			PhotoBucket: conf.GetString("supabase.photoBucket"),
		},
		Provisioning: ProvisioningConfig{
			StepTimeout:      conf.GetDuration("provisioning.stepTimeout"),
			LockTTL:          conf.GetDuration("provisioning.lockTTL"),
			OpsEmail:         conf.GetString("provisioning.opsEmail"),
			SendWelcomeEmail: conf.GetBool("provisioning.sendWelcomeEmail"),
		},
	}
}
