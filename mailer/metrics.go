package mailer

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_messages_sent_total",
		Help: "Total number of emails sent",
	}, []string{"kind"})
	messagesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_messages_failed_total",
		Help: "Total number of emails that could not be sent",
	}, []string{"kind"})
	connectionAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_connection_attempts_total",
		Help: "Total number of mail server connection attempts by result",
	}, []string{"result"})
	reminderBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mailer_reminder_batches_total",
		Help: "Total number of reminder batches by result",
	}, []string{"result"})
)

// Message kinds used as metric labels.
const (
	kindNotification = "notification"
	kindReminder     = "reminder"
)

func init() {
	prometheus.MustRegister(messagesSent)
	prometheus.MustRegister(messagesFailed)
	prometheus.MustRegister(connectionAttempts)
	prometheus.MustRegister(reminderBatches)
}

// metricsHandler serves the default registry.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
