// Package effects runs the side effects that follow a store mutation: one
// optional audit entry, one optional toast, one optional notification record
// and a change event on the feed. Stores call it after releasing their lock.
package effects

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ehr/emr-dashboard/internal/domain/audit"
	"github.com/ehr/emr-dashboard/internal/domain/notification"
	"github.com/ehr/emr-dashboard/internal/platform/auth"
	"github.com/ehr/emr-dashboard/internal/platform/websocket"
)

// Metrics receives mutation counters. *metrics.Collector satisfies it.
type Metrics interface {
	RecordMutation(store, action string)
	RecordRejection(store, action string)
	RecordNotification(typ, module string)
}

// Deps are the collaborators of an Emitter. Any of them may be nil.
type Deps struct {
	Audit         *audit.Store
	Notifications *notification.Store
	Templates     *notification.TemplateEngine
	Toaster       notification.Toaster
	Publisher     websocket.Publisher
	Metrics       Metrics
	Logger        zerolog.Logger
}

type Emitter struct {
	audit         *audit.Store
	notifications *notification.Store
	templates     *notification.TemplateEngine
	toaster       notification.Toaster
	publisher     websocket.Publisher
	metrics       Metrics
	logger        zerolog.Logger
}

func NewEmitter(d Deps) *Emitter {
	if d.Templates == nil {
		d.Templates = notification.NewTemplateEngine()
	}
	return &Emitter{
		audit:         d.Audit,
		notifications: d.Notifications,
		templates:     d.Templates,
		toaster:       d.Toaster,
		publisher:     d.Publisher,
		metrics:       d.Metrics,
		logger:        d.Logger,
	}
}

// Outcome describes a committed mutation.
type Outcome struct {
	Store   string // metrics label and log field, e.g. "bed"
	Action  string // metrics label, e.g. "assign"
	Topic   string // change feed topic
	Version uint64 // store version after the mutation
	Payload any    // change event data, usually the mutated entity

	Audit *audit.NewEntry

	Toast string // success toast, empty for none

	Notify     string // notification template id, empty for none
	NotifyData map[string]string
}

// Commit runs every side effect of o. Failures are logged; none of them
// undo or block the mutation.
func (e *Emitter) Commit(ctx context.Context, o Outcome) {
	if e.metrics != nil && o.Store != "" {
		e.metrics.RecordMutation(o.Store, o.Action)
	}
	if o.Audit != nil {
		e.Record(ctx, *o.Audit)
	}
	if o.Toast != "" {
		e.Toast(ctx, notification.ToastSuccess, o.Toast)
	}
	if o.Notify != "" {
		e.Notify(ctx, o.Notify, o.NotifyData)
	}
	if o.Topic != "" {
		e.Publish(ctx, websocket.EventStoreChanged, o.Topic, o.Version, o.Payload)
	}
}

// Reject toasts the rejection message to the acting user and returns the
// error for the caller to surface.
func (e *Emitter) Reject(ctx context.Context, store, action string, err *RejectedError) error {
	if e.metrics != nil {
		e.metrics.RecordRejection(store, action)
	}
	e.logger.Info().Str("store", store).Str("action", action).Msg("rejected: " + err.Message)
	e.Toast(ctx, notification.ToastError, err.Message)
	return err
}

// Record appends one audit entry and announces it on the audit topic.
func (e *Emitter) Record(ctx context.Context, entry audit.NewEntry) {
	if e.audit == nil {
		return
	}
	stored, ok := e.audit.AddLog(ctx, entry)
	if !ok {
		return
	}
	e.Publish(ctx, websocket.EventAuditAppend, websocket.TopicAudit, 0, stored)
}

func (e *Emitter) Toast(ctx context.Context, kind notification.ToastKind, message string) {
	if e.toaster == nil {
		return
	}
	t := notification.Toast{Kind: kind, Message: message}
	if u, ok := auth.UserFromContext(ctx); ok {
		t.UserID = u.ID
	}
	e.toaster.Toast(ctx, t)
}

// Notify renders templateID with data and stores the resulting record.
func (e *Emitter) Notify(ctx context.Context, templateID string, data map[string]string) {
	if e.notifications == nil {
		return
	}
	n, err := e.templates.Render(templateID, data)
	if err != nil {
		e.logger.Error().Err(err).Str("template", templateID).Msg("render notification")
		return
	}
	stored := e.notifications.Add(ctx, n)
	if e.metrics != nil {
		e.metrics.RecordNotification(string(stored.Type), stored.Module)
	}
}

func (e *Emitter) Publish(ctx context.Context, eventType, topic string, version uint64, payload any) {
	if e.publisher == nil {
		return
	}
	ev, err := websocket.NewEvent(eventType, topic, version, payload)
	if err == nil {
		err = e.publisher.Publish(ctx, ev)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("topic", topic).Msg("publish change event")
	}
}
