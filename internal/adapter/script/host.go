package script

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Result is the JSON-object value every host function returns to a script.
// Failures are reported in-band with status "error" so a script can inspect
// them instead of aborting.
type Result map[string]any

func okResult(fields Result) Result {
	r := Result{"status": "ok"}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

func errResult(msg string) Result {
	return Result{"status": "error", "error": msg}
}

// Host implements the functions exposed to scripts. Message delivery is
// simulated: requests are logged and acknowledged.
type Host struct {
	limiter   *rate.Limiter
	reminders *ReminderStore
	now       func() time.Time
	logger    *slog.Logger
}

// NewHost creates a host. perMinute bounds send_sms and send_msg combined;
// zero or less disables the limit. reminders may be nil, in which case
// remember fails in-band.
func NewHost(perMinute int, reminders *ReminderStore, logger *slog.Logger) *Host {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	}
	return &Host{
		limiter:   limiter,
		reminders: reminders,
		now:       time.Now,
		logger:    logger,
	}
}

// SendSMS simulates sending a text message to number.
func (h *Host) SendSMS(_ context.Context, number, msg string) Result {
	if !h.limiter.Allow() {
		h.logger.Warn("send_sms rate limited", "number", number)
		return errResult("rate limit exceeded")
	}
	h.logger.Info("send_sms", "number", number, "len", len(msg))
	return okResult(Result{"number": number, "sms_msg": msg})
}

// SendMsg simulates posting message to a chat room.
func (h *Host) SendMsg(_ context.Context, roomID uint64, message string) Result {
	if !h.limiter.Allow() {
		h.logger.Warn("send_msg rate limited", "room_id", roomID)
		return errResult("rate limit exceeded")
	}
	h.logger.Info("send_msg", "room_id", roomID, "len", len(message))
	return okResult(Result{"room_id": roomID, "message": message})
}

// Remember stores text as a reminder due at the given unix time.
func (h *Host) Remember(ctx context.Context, at uint64, text string) Result {
	if h.reminders == nil {
		return errResult("reminders unavailable")
	}
	id, err := h.reminders.Add(ctx, time.Unix(int64(at), 0), text)
	if err != nil {
		h.logger.Warn("remember failed", "error", err)
		return errResult(err.Error())
	}
	return okResult(Result{"id": id})
}

// ListReminders returns every stored reminder, soonest first.
func (h *Host) ListReminders(ctx context.Context) Result {
	if h.reminders == nil {
		return errResult("reminders unavailable")
	}
	list, err := h.reminders.List(ctx)
	if err != nil {
		return errResult(err.Error())
	}
	items := make([]any, 0, len(list))
	for _, r := range list {
		items = append(items, map[string]any{
			"id":   r.ID,
			"time": r.At.Unix(),
			"text": r.Text,
		})
	}
	return okResult(Result{"reminders": items})
}

// GetWeather returns a fixed forecast.
func (h *Host) GetWeather(context.Context) Result {
	return okResult(Result{"temp": "18", "weather": "雨"})
}

// GetCurrentTime returns the local time in RFC 3339.
func (h *Host) GetCurrentTime(context.Context) Result {
	return okResult(Result{"time": h.now().Format(time.RFC3339)})
}
