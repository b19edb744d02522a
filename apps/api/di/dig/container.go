package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/presence/apps/api/echo"
	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/account"
	emailsvc "github.com/trezcool/presence/services/email"
	locksvc "github.com/trezcool/presence/services/lock"
	logsvc "github.com/trezcool/presence/services/logger"
	metricsvc "github.com/trezcool/presence/services/metrics"
	"github.com/trezcool/presence/services/supabase"
	"github.com/trezcool/presence/storage/database"
	inmemdb "github.com/trezcool/presence/storage/database/inmem"
	pgxdb "github.com/trezcool/presence/storage/database/pgx"
	sqlxdb "github.com/trezcool/presence/storage/database/sqlx"
)

const setupTimeout = 30 * time.Second

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Closers are run on shutdown, in order.
type Closers []func() error

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newSupabaseClient(conf *core.Config) (*supabase.Client, error) {
	return supabase.NewClient(conf)
}

// newProfileStore picks the store named by conf.Database.Driver; SQL databases are created and migrated first.
func newProfileStore(conf *core.Config, client *supabase.Client, loggerParam DBLoggerParam) (account.ProfileStore, Closers) {
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	logger := loggerParam.Logger

	fail := func(err error) {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	migrate := func() {
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			fail(err)
		}
		db, err := database.Open(conf)
		if err != nil {
			fail(err)
		}
		defer func() { _ = db.Close() }()
		if err = database.Migrate(db, "up"); err != nil {
			fail(err)
		}
	}

	switch conf.Database.Driver {
	case "postgrest":
		return supabase.NewProfileStore(client), nil
	case "inmem":
		logger.Warn("using the in-memory profile store: profiles are lost on restart")
		return inmemdb.NewProfileStore(inmemdb.Open()), nil
	case "pgx":
		migrate()
		pool, err := database.OpenPgx(ctx, conf)
		if err != nil {
			fail(err)
		}
		return pgxdb.NewProfileStore(pool), Closers{func() error { pool.Close(); return nil }}
	default:
		migrate()
		db, err := database.OpenSqlx(ctx, conf)
		if err != nil {
			fail(err)
		}
		return sqlxdb.NewProfileStore(db), Closers{db.Close}
	}
}

// newLocker shares locks through redis when configured.
func newLocker(conf *core.Config, logger core.Logger) account.Locker {
	if conf.RedisURL == "" {
		return account.NewLocalLocker()
	}
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	client, err := locksvc.NewRedisClient(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
	}
	return locksvc.NewRedisLocker(client, conf.Provisioning.AttemptLockTTL())
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func newRecorder(reg *prometheus.Registry) (account.Recorder, error) {
	return metricsvc.NewPrometheusRecorder(reg)
}

func newValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	account.InitValidators(validate, translator)
	return validate, translator
}

type provisionerParams struct {
	dig.In
	Conf       *core.Config
	Logger     core.Logger
	Client     *supabase.Client
	Profiles   account.ProfileStore
	Locker     account.Locker
	Mailer     core.EmailService
	Recorder   account.Recorder
	Validate   *validator.Validate
	Translator ut.Translator
}

func newProvisioner(p provisionerParams) (*account.Provisioner, error) {
	return account.NewProvisioner(account.ProvisionerDeps{
		Auth:       supabase.NewAuthService(p.Client),
		Storage:    supabase.NewStorage(p.Client),
		Profiles:   p.Profiles,
		Locker:     p.Locker,
		Mailer:     p.Mailer,
		Recorder:   p.Recorder,
		Logger:     p.Logger,
		Validate:   p.Validate,
		Translator: p.Translator,
		Conf:       p.Conf,
	})
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	prov *account.Provisioner,
	svc *account.Service,
	translator ut.Translator,
	reg *prometheus.Registry,
) *echoapi.Server {
	return echoapi.NewServer(&echoapi.Options{
		Conf:        conf,
		Logger:      logger,
		Provisioner: prov,
		ProfileSvc:  svc,
		Translator:  translator,
		Gatherer:    reg,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newSupabaseClient))
	must(c.Provide(newProfileStore))
	must(c.Provide(newLocker))
	must(c.Provide(newEmailService))
	must(c.Provide(newRegistry))
	must(c.Provide(newRecorder))
	must(c.Provide(newValidator))
	must(c.Provide(newProvisioner))
	must(c.Provide(account.NewService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
