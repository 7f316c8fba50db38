package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carebridge/backend/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event types broadcast to open dashboard sessions.
const (
	EventAppointmentCreated   = "appointment.created"
	EventAppointmentConfirmed = "appointment.confirmed"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentCompleted = "appointment.completed"
	EventEmergencyAlert       = "emergency.alert"
)

// Event is the advisory payload pushed to dashboards so they can re-fetch.
// Delivery is best-effort; a session that misses it shows stale data until
// its next refresh.
type Event struct {
	Type          string                  `json:"type"`
	AppointmentID string                  `json:"appointment_id,omitempty"`
	BookingRef    string                  `json:"booking_ref,omitempty"`
	DoctorID      string                  `json:"doctor_id,omitempty"`
	PatientEmail  string                  `json:"patient_email,omitempty"`
	Status        string                  `json:"status,omitempty"`
	Affected      []models.PatientContact `json:"affected,omitempty"`
	OccurredAt    time.Time               `json:"occurred_at"`
}

// Publisher pushes a serialized event onto a named channel. Satisfied by
// RedisPublisher; tests use a fake.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return nil
}

// RedisPublisher broadcasts events over Redis pub/sub.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return errors.Wrap(err, "failed to publish event")
	}
	return nil
}

// Notifier fans appointment events out to the doctor's and patient's
// channels. Publish failures are logged, never returned: notification is
// advisory and must not fail the request that triggered it.
type Notifier struct {
	pub           Publisher
	logger        *zap.Logger
	channelPrefix string
}

func NewNotifier(pub Publisher, logger *zap.Logger, channelPrefix string) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channelPrefix == "" {
		channelPrefix = "events"
	}
	return &Notifier{pub: pub, logger: logger, channelPrefix: channelPrefix}
}

// AppointmentEvent builds the event for an appointment state change,
// including the contacts of any auto-cancelled siblings.
func AppointmentEvent(eventType string, a *models.Appointment, affected []models.PatientContact) Event {
	return Event{
		Type:          eventType,
		AppointmentID: a.ID,
		BookingRef:    a.BookingRef,
		DoctorID:      a.DoctorID,
		PatientEmail:  a.PatientEmail,
		Status:        string(a.Status),
		Affected:      affected,
		OccurredAt:    time.Now().UTC(),
	}
}

// Broadcast publishes the event to the doctor channel, the primary patient
// channel, and the channel of every affected patient.
func (n *Notifier) Broadcast(ctx context.Context, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		n.logger.Error("failed to marshal event", zap.Error(err), zap.String("type", evt.Type))
		return
	}

	channels := make([]string, 0, 2+len(evt.Affected))
	if evt.DoctorID != "" {
		channels = append(channels, n.doctorChannel(evt.DoctorID))
	}
	if evt.PatientEmail != "" {
		channels = append(channels, n.patientChannel(evt.PatientEmail))
	}
	for _, c := range evt.Affected {
		if c.PatientEmail != "" && c.PatientEmail != evt.PatientEmail {
			channels = append(channels, n.patientChannel(c.PatientEmail))
		}
	}

	for _, ch := range channels {
		if err := n.pub.Publish(ctx, ch, payload); err != nil {
			n.logger.Warn("event publish failed",
				zap.String("channel", ch),
				zap.String("type", evt.Type),
				zap.Error(err))
		}
	}
}

// BroadcastAlert publishes an emergency alert to the shared alerts channel
// watched by doctor dashboards, plus the raising patient's own channel.
func (n *Notifier) BroadcastAlert(ctx context.Context, alert *models.EmergencyAlert) {
	payload, err := json.Marshal(struct {
		Type       string                `json:"type"`
		Alert      models.EmergencyAlert `json:"alert"`
		OccurredAt time.Time             `json:"occurred_at"`
	}{
		Type:       EventEmergencyAlert,
		Alert:      *alert,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		n.logger.Error("failed to marshal alert", zap.Error(err), zap.String("alert_id", alert.ID))
		return
	}

	channels := []string{fmt.Sprintf("%s:alerts", n.channelPrefix)}
	if alert.PatientEmail != "" {
		channels = append(channels, n.patientChannel(alert.PatientEmail))
	}
	for _, ch := range channels {
		if err := n.pub.Publish(ctx, ch, payload); err != nil {
			n.logger.Warn("alert publish failed",
				zap.String("channel", ch),
				zap.String("alert_id", alert.ID),
				zap.Error(err))
		}
	}
}

func (n *Notifier) doctorChannel(doctorID string) string {
	return fmt.Sprintf("%s:doctor:%s", n.channelPrefix, doctorID)
}

func (n *Notifier) patientChannel(email string) string {
	return fmt.Sprintf("%s:patient:%s", n.channelPrefix, email)
}
