// The catalog service is the GT3 catalog management API: five generic
// catalog collections, user administration and token-based
// authentication, backed by a single sqlite database.
package main

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/gt3pedia/backend/core/access"
	"github.com/gt3pedia/backend/core/backend"
	"github.com/gt3pedia/backend/core/csql"
	"github.com/gt3pedia/backend/core/logger"
)

var configurationJSON string = `{
	"collections": [
	  {
		"resource": "cars",
		"description": "GT3 race and homologation cars",
		"fields": [
		  {"name": "brand", "type": "text"},
		  {"name": "model", "type": "text"},
		  {"name": "generation", "type": "text"},
		  {"name": "year", "type": "int"},
		  {"name": "engine", "type": "text"},
		  {"name": "power", "type": "int"},
		  {"name": "torque", "type": "int"},
		  {"name": "weight", "type": "int"},
		  {"name": "top_speed", "type": "int"},
		  {"name": "image_url", "type": "text"},
		  {"name": "description", "type": "text"}
		],
		"search_columns": ["brand", "model", "engine", "generation"],
		"default_order": "updated_at DESC"
	  },
	  {
		"resource": "tracks",
		"description": "circuits the GT3 series race on",
		"fields": [
		  {"name": "name", "type": "text"},
		  {"name": "country", "type": "text"},
		  {"name": "length_km", "type": "float"},
		  {"name": "type", "type": "text"},
		  {"name": "location", "type": "text"},
		  {"name": "turns", "type": "int"},
		  {"name": "established", "type": "int"},
		  {"name": "image_url", "type": "text"},
		  {"name": "card_image_url", "type": "text"},
		  {"name": "detail_image_url", "type": "text"},
		  {"name": "description", "type": "text"}
		],
		"search_columns": ["name", "country", "location"],
		"default_order": "name COLLATE NOCASE ASC"
	  },
	  {
		"resource": "teams",
		"fields": [
		  {"name": "name", "type": "text"},
		  {"name": "country", "type": "text"},
		  {"name": "founded", "type": "int"},
		  {"name": "series", "type": "text"},
		  {"name": "cars", "type": "text"},
		  {"name": "logo", "type": "text"},
		  {"name": "image_url", "type": "text"},
		  {"name": "description", "type": "text"},
		  {"name": "stats", "type": "text"},
		  {"name": "achievements", "type": "text"}
		],
		"json_fields": ["series", "cars", "stats", "achievements"],
		"search_columns": ["name", "country", "series"],
		"default_order": "name COLLATE NOCASE ASC"
	  },
	  {
		"resource": "pilots",
		"fields": [
		  {"name": "name", "type": "text"},
		  {"name": "nationality", "type": "text"},
		  {"name": "flag", "type": "text"},
		  {"name": "team", "type": "text"},
		  {"name": "car", "type": "text"},
		  {"name": "championships", "type": "text"},
		  {"name": "stats", "type": "text"},
		  {"name": "series", "type": "text"},
		  {"name": "tags", "type": "text"},
		  {"name": "image_url", "type": "text"}
		],
		"json_fields": ["championships", "stats", "series", "tags"],
		"search_columns": ["name", "team", "series"],
		"default_order": "name COLLATE NOCASE ASC"
	  },
	  {
		"resource": "champions",
		"description": "championship winners by year and series",
		"fields": [
		  {"name": "year", "type": "int"},
		  {"name": "series", "type": "text"},
		  {"name": "team_name", "type": "text"},
		  {"name": "drivers", "type": "text"},
		  {"name": "car", "type": "text"},
		  {"name": "image_url", "type": "text"},
		  {"name": "stats", "type": "text"},
		  {"name": "description", "type": "text"}
		],
		"json_fields": ["drivers", "stats"],
		"search_columns": ["team_name", "series", "car"],
		"default_order": "year DESC, team_name COLLATE NOCASE ASC"
	  }
	]
}
`

// Service holds the configuration for this service
type Service struct {
	Port         string        `env:"PORT,default=4000" description:"the port the service listens on"`
	DatabaseFile string        `env:"DATABASE_FILE,default=data/gt3.db" description:"path of the sqlite database file"`
	JWTSecret    string        `env:"JWT_SECRET,default=dev-secret-change-me" description:"signing key for bearer tokens, the default is for development only"`
	JWTExpiry    time.Duration `env:"JWT_EXPIRES_IN,default=168h" description:"bearer token lifetime"`
	DataDir      string        `env:"DATA_DIR,default=data" description:"directory with the bulk seed files"`
	AdminEmail   string        `env:"ADMIN_EMAIL,default=admin@example.com" description:"email of the initial administrator account"`
	AdminPass    string        `env:"ADMIN_PASSWORD,default=admin123" description:"password of the initial administrator account"`
	LogLevel     string        `env:"LOG_LEVEL,default=info" description:"logrus log level"`
}

func main() {
	godotenv.Load()
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	level, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.InitLogger(level)
	rlog := logger.Default()

	if service.JWTSecret == access.DefaultSecret {
		rlog.Warningln("JWT_SECRET is the insecure development default, override it in production")
	}

	db := csql.MustOpen(service.DatabaseFile)
	defer db.Close()

	router := mux.NewRouter()
	logger.AddRequestID(router)

	b := backend.New(&backend.Builder{
		Config: configurationJSON,
		DB:     db,
		Router: router,
		Tokens: access.NewTokenService(service.JWTSecret, service.JWTExpiry),
	})

	if err := b.EnsureAdminAccount(service.AdminEmail, service.AdminPass, "Administrator"); err != nil {
		rlog.WithError(err).Errorln("cannot create initial administrator account")
	}
	if err := b.Seed(service.DataDir); err != nil {
		rlog.WithError(err).Warningln("seeding failed, continuing with what we have")
	}

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	handler := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(router)
	handler = handlers.RecoveryHandler()(handler)

	rlog.Infoln("listen on port :" + service.Port)
	if err := http.ListenAndServe(":"+service.Port, handler); err != nil {
		rlog.WithError(err).Fatalln("server stopped")
	}
}
