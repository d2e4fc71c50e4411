// Package natsreport publishes the server faults of a lucets application to
// NATS so they can be collected across instances.
//
//	nc, _ := nats.Connect(nats.DefaultURL)
//	app.OnError(natsreport.New(nc, "lucets.faults").Observe)
package natsreport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/lucets/lucets"
	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the reporter uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Fault is the event published for each server fault.
type Fault struct {
	Connection string    `json:"connection"`
	RemoteAddr string    `json:"remoteAddr"`
	State      string    `json:"state"`
	Status     int       `json:"status"`
	Error      string    `json:"error"`
	Time       time.Time `json:"time"`
}

// Reporter publishes faults to a NATS subject.
type Reporter struct {
	publisher Publisher
	subject   string
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a reporter publishing to subject.
func New(publisher Publisher, subject string) *Reporter {
	return &Reporter{
		publisher: publisher,
		subject:   subject,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// Connect dials a NATS server and returns a reporter publishing to it along
// with the connection, which the caller must drain or close.
func Connect(url string, subject string, options ...nats.Option) (*Reporter, *nats.Conn, error) {
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, nil, err
	}
	return New(conn, subject), conn, nil
}

// SetLogger sets the logger used when publishing fails.
func (r *Reporter) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// Observe publishes a fault. It matches lucets.ErrorObserver. Publish
// failures are logged, never returned to the application.
func (r *Reporter) Observe(err error, ctx *lucets.Context) {
	fault := r.fault(err, ctx)

	data, marshalErr := json.Marshal(fault)
	if marshalErr != nil {
		r.logger.Error("failed to encode fault", slog.String("error", marshalErr.Error()))
		return
	}
	if pubErr := r.publisher.Publish(r.subject, data); pubErr != nil {
		r.logger.Error("failed to publish fault",
			slog.String("subject", r.subject),
			slog.String("connection", fault.Connection),
			slog.String("error", pubErr.Error()),
		)
	}
}

func (r *Reporter) fault(err error, ctx *lucets.Context) *Fault {
	fault := &Fault{
		Status: status(err),
		Error:  describe(err),
		Time:   r.now().UTC(),
	}
	if ctx != nil {
		fault.Connection = ctx.ID()
		fault.RemoteAddr = ctx.RemoteAddr()
		fault.State = ctx.State().String()
	}
	return fault
}

// status returns the HTTP status or close code carried by the error, or
// zero when it carries neither.
func status(err error) int {
	var wsErr *lucets.WebSocketError
	if errors.As(err, &wsErr) {
		return int(wsErr.Code)
	}
	var httpErr *lucets.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

func describe(err error) string {
	if cause := errors.Unwrap(err); cause != nil {
		return err.Error() + ": " + cause.Error()
	}
	return err.Error()
}
