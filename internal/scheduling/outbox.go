package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Publisher is the external notification sink. The redis package provides
// the production implementation (a pub/sub channel the notification
// service subscribes to).
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// OutboxDispatcher drains undispatched notification events to the sink.
// Events are written in the same transaction as the appointment change,
// so a crash between commit and publish only delays delivery, never
// loses the event.
type OutboxDispatcher struct {
	repo    Repository
	pub     Publisher
	channel string
	batch   int
	log     zerolog.Logger
	now     func() time.Time
}

func NewOutboxDispatcher(repo Repository, pub Publisher, channel string, batch int, log zerolog.Logger) *OutboxDispatcher {
	if batch <= 0 {
		batch = 100
	}
	return &OutboxDispatcher{
		repo:    repo,
		pub:     pub,
		channel: channel,
		batch:   batch,
		log:     log,
		now:     time.Now,
	}
}

// envelope is the wire shape consumed by the notification service.
type envelope struct {
	Type            string          `json:"type"`
	AppointmentID   *string         `json:"appointment_id,omitempty"`
	RecipientUserID *string         `json:"recipient_user_id,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// RunOnce publishes one batch. Events that fail to publish stay
// undispatched and are retried next run; a failed batch does not block
// later events beyond this run.
func (d *OutboxDispatcher) RunOnce(ctx context.Context) (int, error) {
	events, err := d.repo.FindUndispatchedEvents(ctx, d.batch)
	if err != nil {
		return 0, fmt.Errorf("find undispatched events: %w", err)
	}

	dispatched := 0
	for _, ev := range events {
		env := envelope{
			Type:    ev.EventType,
			Payload: ev.Payload,
		}
		if ev.AppointmentID != nil {
			s := ev.AppointmentID.String()
			env.AppointmentID = &s
		}
		if ev.RecipientUserID != nil {
			s := ev.RecipientUserID.String()
			env.RecipientUserID = &s
		}

		body, err := json.Marshal(env)
		if err != nil {
			d.log.Error().Err(err).Int64("event_id", ev.ID).Msg("marshal outbox event")
			continue
		}

		if err := d.pub.Publish(ctx, d.channel, body); err != nil {
			d.log.Warn().Err(err).Int64("event_id", ev.ID).Msg("publish outbox event")
			continue
		}

		if err := d.repo.MarkEventDispatched(ctx, ev.ID, d.now()); err != nil {
			// Published but not marked: the event will be re-published next
			// run. The sink must tolerate duplicates.
			d.log.Error().Err(err).Int64("event_id", ev.ID).Msg("mark event dispatched")
			continue
		}
		dispatched++
	}

	return dispatched, nil
}
