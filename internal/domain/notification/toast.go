package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/emr-dashboard/internal/platform/websocket"
)

type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
	ToastInfo    ToastKind = "info"
	ToastWarning ToastKind = "warning"
)

// Toast is a transient acknowledgement for the acting user. It is never
// stored.
type Toast struct {
	Kind      ToastKind `json:"kind"`
	Message   string    `json:"message"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Toaster interface {
	Toast(ctx context.Context, t Toast)
}

// ToasterFunc adapts a function to Toaster.
type ToasterFunc func(ctx context.Context, t Toast)

func (f ToasterFunc) Toast(ctx context.Context, t Toast) { f(ctx, t) }

// FeedToaster logs toasts and publishes them on the toasts topic, addressed
// to the acting user. A toast with no user is only logged.
type FeedToaster struct {
	publisher websocket.Publisher
	logger    zerolog.Logger
}

// NewFeedToaster returns a toaster over publisher; a nil publisher only logs.
func NewFeedToaster(publisher websocket.Publisher, logger zerolog.Logger) *FeedToaster {
	return &FeedToaster{publisher: publisher, logger: logger.With().Str("component", "toast").Logger()}
}

func (f *FeedToaster) Toast(ctx context.Context, t Toast) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	f.logger.Debug().Str("kind", string(t.Kind)).Str("user_id", t.UserID).Msg(t.Message)

	if f.publisher == nil || t.UserID == "" {
		return
	}
	ev, err := websocket.NewEvent(websocket.EventToast, websocket.TopicToasts, 0, t)
	if err == nil {
		ev.Recipient = t.UserID
		err = f.publisher.Publish(ctx, ev)
	}
	if err != nil {
		f.logger.Warn().Err(err).Msg("publish toast")
	}
}
