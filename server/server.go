package server

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/campuskit/sentinel/server/alerts"
	"github.com/campuskit/sentinel/server/auth/key"
	"github.com/campuskit/sentinel/server/gstorage"
	"github.com/campuskit/sentinel/server/logger"
	"github.com/campuskit/sentinel/server/models"
	"github.com/campuskit/sentinel/server/twilio"
	"github.com/campuskit/sentinel/server/work"
	"github.com/campuskit/sentinel/shared"
	"github.com/go-playground/validator"
	"github.com/gorilla/mux"
	"github.com/spf13/viper"
)

var (
	logg     = logger.NewLogger()
	validate *validator.Validate

	authKeyPair  *key.KeyPair
	alertManager *alerts.Manager
	devMode      bool

	gStorageClient *gstorage.GStorage
	storageConfig  shared.StorageConfig
	dbFilePath     string
)

func init() {
	validate = validator.New()
	if err := RegisterValidators(validate); err != nil {
		panic(err)
	}
}

// Start brings up the whole server: encrypted sqlite db, auth keys, sms
// dispatch, background workers & the http listener. It blocks until
// SIGINT/SIGTERM, then shuts everything down gracefully.
func Start(config *viper.Viper, devEnv bool) {
	devMode = devEnv

	serverConfig := &shared.ServerConfig{}
	fatalOnError(config.Unmarshal(serverConfig))
	fatalOnError(validate.Struct(serverConfig))

	configDir := configDirectory(devMode)
	backupEnabled := configValueAsBool(serverConfig.Google.Storage.EnableSqliteBackupAndSync)

	if backupEnabled {
		var err error

		gStorageClient, err = gstorage.NewGStorage(serverConfig.Google.ApplicationCredentials)
		fatalOnError(err)

		storageConfig = serverConfig.Google.Storage

		dbFilePath, err = models.DbFilePath(configDir)
		fatalOnError(err)

		// pull the last backup before the db is opened, so a fresh host
		// picks up where the old one left off
		restoreSqliteDbIfMissing()
	}

	fatalOnError(models.AutoMigrate(serverConfig.Sqlite.PassPhrase, configDir))

	keyPair, err := key.NewKeyPairFromRSAPrivateKeyPem(serverConfig.Sentinel.PrivateKeyPem)
	fatalOnError(err)
	authKeyPair = keyPair

	dispatchEnabled := configValueAsBool(serverConfig.Twilio.Enabled)
	alertManager = alerts.NewManager(twilio.NewClient(serverConfig.Twilio, devMode), dispatchEnabled)
	if !dispatchEnabled {
		logg.Warn("Sms dispatch is disabled - emergency alerts will stay 'pending'")
	}

	workerPool := work.NewWorkerAdapter(serverConfig.Sentinel.Cron.TimeZone)
	registerJobHandlers(workerPool)
	workerPool.Start()

	if backupEnabled {
		enqueueJobs(workerPool, storageConfig.SqliteBackupSchedule)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%v", serverConfig.Sentinel.Listener.Port),
		Handler: newRouter(),
	}

	go serve(server)

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	<-signalChannel

	var backupFn func()
	if backupEnabled {
		backupFn = func() {
			if err := backupSqliteDb(nil); err != nil {
				logg.Error(err)
			}
		}
	}

	cleanup(workerPool, server, backupFn)
}

func newRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware, initialContextMiddleware)

	router.HandleFunc("/api/health", healthCheck).Methods("GET")
	router.HandleFunc("/.well-known/jwks.json", jwks).Methods("GET")
	router.HandleFunc("/api/auth/register", register).Methods("POST")
	router.HandleFunc("/api/auth/login", logIn).Methods("POST")

	protectedRoutes := router.PathPrefix("/api").Subrouter()
	protectedRoutes.Use(protectedRouteMiddleware)

	protectedRoutes.HandleFunc("/auth/me", currentUser).Methods("GET")
	protectedRoutes.HandleFunc("/users/{id:[0-9]+}", findUser).Methods("GET")

	protectedRoutes.HandleFunc("/emergency-contacts", findEmergencyContacts).Methods("GET")
	protectedRoutes.HandleFunc("/emergency-contacts", createEmergencyContact).Methods("POST")
	protectedRoutes.HandleFunc("/emergency-contacts/{id:[0-9]+}", updateEmergencyContact).Methods("PUT")
	protectedRoutes.HandleFunc("/emergency-contacts/{id:[0-9]+}", deleteEmergencyContact).Methods("DELETE")

	protectedRoutes.HandleFunc("/emergency-alerts", createEmergencyAlert).Methods("POST")
	protectedRoutes.HandleFunc("/emergency-alerts", findEmergencyAlerts).Methods("GET")
	protectedRoutes.HandleFunc("/emergency-alerts/{id:[0-9]+}", findEmergencyAlert).Methods("GET")
	protectedRoutes.HandleFunc("/emergency-alerts/{id:[0-9]+}/cancel", cancelEmergencyAlert).Methods("PUT")
	protectedRoutes.HandleFunc("/emergency-alerts/{id:[0-9]+}/resolve", resolveEmergencyAlert).Methods("PUT")

	router.NotFoundHandler = http.HandlerFunc(notFound)

	return router
}

// configValueAsBool reads the loosely-typed on/off switches from the yaml
// config. Anything that isn't the bool 'true' counts as off.
func configValueAsBool(value interface{}) bool {
	enabled, ok := value.(bool)
	return ok && enabled
}
