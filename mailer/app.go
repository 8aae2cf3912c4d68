// Package mailer sends mailroom package notifications and daily reminder
// emails, and serves them over an HTTP API.
package mailer

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	jsonParseErrorMessage = `{"errors":[{"message":"failed to parse response body to json"}]}`
)

// App represents the HTTP service state.
type App struct {
	config     *Config
	store      PropertyStore
	dispatcher *Dispatcher
	logger     *zap.SugaredLogger
}

// ErrorResponse represents the JSON structure for error responses.
type ErrorResponse struct {
	Errors []Error `json:"errors"`
}

// Error represents an error item in a response.
type Error struct {
	Message string  `json:"message"`
	Field   *string `json:"field,omitempty"`
}

// NotificationRequest is the body of POST /v1/notifications.
type NotificationRequest struct {
	Recipient Recipient `json:"recipient"`
	Item      MailItem  `json:"item"`
}

// ReminderRequest is the body of POST /v1/reminders.  Associations must be
// clustered by recipient.  Force skips the eligibility check.
type ReminderRequest struct {
	Associations []Association `json:"associations"`
	Force        bool          `json:"force"`
}

// ReminderResult is the response of POST /v1/reminders.
type ReminderResult struct {
	Due  bool `json:"due"`
	Sent bool `json:"sent"`
}

// ReminderStatus is the response of GET /v1/reminders/status.
type ReminderStatus struct {
	LastReminder *time.Time `json:"last_reminder,omitempty"`
	Due          bool       `json:"due"`
}

// RunServer enters server loop.  Only returns when something bad happens.
func RunServer(config *Config) (err error) {
	logger, err := createLogger()
	if err != nil {
		return err
	}

	dispatcher, store, err := NewDispatcherFromConfig(config, NewHeadlessView(logger), logger)
	if err != nil {
		return err
	}
	app := NewApp(config, store, dispatcher, logger)
	defer func() {
		err = appendError(err, app.Fini())
	}()

	if !dispatcher.Prepare() {
		logger.Warnw("mail account is not usable, sending will fail until it is fixed",
			"address", dispatcher.SenderAddress())
	}

	server := newServer(app)
	return errors.WithStack(server.ListenAndServe())
}

// createLogger creates and returns a new development logger.
func createLogger() (*zap.SugaredLogger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return logger.Sugar(), nil
}

// NewLogger returns the logger used by the service and the CLI.
func NewLogger() *zap.SugaredLogger {
	logger, err := createLogger()
	if err != nil {
		log.Panicf("cannot initialize logger: %+v", err)
	}
	return logger
}

// NewDispatcherFromConfig opens the property store and the templates named
// by config and wires a dispatcher talking to the configured SMTP server.
func NewDispatcherFromConfig(config *Config, view View, logger *zap.SugaredLogger) (*Dispatcher, PropertyStore, error) {
	store, err := OpenStore(config)
	if err != nil {
		return nil, nil, err
	}
	templates, err := LoadTemplates(config.Templates)
	if err != nil {
		return nil, nil, appendError(err, store.Close())
	}
	conns := NewConnectionManager(NewSMTPTransport(config), config.MyDomain, logger)
	return NewDispatcher(store, view, templates, conns, logger, config.Signature), store, nil
}

// NewApp returns the HTTP service around dispatcher.
func NewApp(config *Config, store PropertyStore, dispatcher *Dispatcher, logger *zap.SugaredLogger) *App {
	return &App{
		config:     config,
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Fini closes the property store.
func (app *App) Fini() error {
	return app.store.Close()
}

// newServer creates and configures a new HTTP server.
func newServer(app *App) *http.Server {
	host := app.config.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := app.config.Port
	if port == 0 {
		port = DefaultConfig().Port
	}

	router := newRouter(app)

	app.logger.Infow("starting server",
		"host", host,
		"port", port)

	return &http.Server{
		Handler:      router,
		Addr:         fmt.Sprintf("%s:%d", host, port),
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

// newRouter creates and configures the HTTP router with all API endpoints.
func newRouter(app *App) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/", app.hHello).Methods("GET")
	router.HandleFunc("/v1/notifications", app.hNotify).Methods("POST")
	router.HandleFunc("/v1/reminders", app.hRemind).Methods("POST")
	router.HandleFunc("/v1/reminders/status", app.hReminderStatus).Methods("GET")
	router.Handle("/metrics", metricsHandler()).Methods("GET")
	return router
}

// returnJSON writes a JSON response to the HTTP response writer.
func returnJSON(w http.ResponseWriter, val any) {
	js, err := json.Marshal(val)
	if err != nil {
		http.Error(w, jsonParseErrorMessage, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(js)
	if err != nil {
		http.Error(w, jsonParseErrorMessage, http.StatusInternalServerError)
		return
	}
}

// returnErr writes an error response to the HTTP response writer.
func returnErr(app *App, w http.ResponseWriter, apperr *AppError) {
	app.logger.Errorf("error code: %d error: %s %+v", apperr.Code, apperr.Error(), apperr.Internal)

	res := ErrorResponse{
		Errors: []Error{{
			Message: apperr.Error(),
		}},
	}
	bodybytes, err := json.Marshal(res)
	if err != nil {
		app.logger.Errorf("%+v", errors.WithStack(err))
		http.Error(w, jsonParseErrorMessage, http.StatusInternalServerError)
		return
	}
	http.Error(w, string(bodybytes), apperr.Code)
}

var bearerRegexp = regexp.MustCompile(`Bearer *(.*)`)

func (app *App) checkApikey(r *http.Request) *AppError {
	auth := r.Header["Authorization"]
	if len(auth) == 0 {
		return AppErr(http.StatusForbidden, "no api key given")
	}

	key := bearerRegexp.ReplaceAllString(auth[0], "$1")
	if slices.Contains(app.config.AppIDs, key) {
		return nil
	}

	return AppErr(http.StatusForbidden, "unrecognized api key")
}

func (app *App) hHello(w http.ResponseWriter, r *http.Request) {
	returnJSON(w, map[string]string{"version": "1"})
}

func (app *App) hNotify(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	var req NotificationRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		returnErr(app, w, WrapErr(http.StatusBadRequest, err))
		return
	}
	if req.Recipient.Email == "" {
		returnErr(app, w, AppErr(http.StatusBadRequest, "recipient email is required"))
		return
	}

	app.logger.Infow("got notification request",
		"external_id", req.Recipient.ExternalID,
		"item_id", req.Item.ID)

	if !app.dispatcher.SendNotification(req.Recipient, req.Item) {
		returnErr(app, w, AppErr(http.StatusBadGateway, "notification could not be sent"))
		return
	}
	returnJSON(w, map[string]bool{"sent": true})
}

func (app *App) hRemind(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	var req ReminderRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		returnErr(app, w, WrapErr(http.StatusBadRequest, err))
		return
	}

	app.logger.Infow("got reminder request",
		"associations", len(req.Associations),
		"force", req.Force)

	res := ReminderResult{Due: true}
	if req.Force {
		res.Sent = app.dispatcher.SendAllReminders(req.Associations)
	} else {
		res.Due, res.Sent = app.dispatcher.SendRemindersIfDue(req.Associations)
	}
	if res.Due && !res.Sent {
		returnErr(app, w, AppErr(http.StatusBadGateway, "reminders could not be sent"))
		return
	}
	returnJSON(w, res)
}

func (app *App) hReminderStatus(w http.ResponseWriter, r *http.Request) {
	apperr := app.checkApikey(r)
	if apperr != nil {
		returnErr(app, w, apperr)
		return
	}

	last, due, err := app.dispatcher.ReminderStatus()
	if err != nil {
		returnErr(app, w, WrapErr(http.StatusInternalServerError, err))
		return
	}

	res := ReminderStatus{Due: due}
	if !last.IsZero() {
		res.LastReminder = &last
	}
	returnJSON(w, res)
}
