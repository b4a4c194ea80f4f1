// Package notify implements the Notification Engine (spec.md §4.J): it
// consumes transition trigger events from pkg/changedetect, looks up the
// rule for the trigger type, checks the suppression window against the
// persistence store, renders the human-readable message and delivers it
// via HTTP POST. Delivery is at-least-once; failures are retried with the
// shared backoff policy and then logged and dropped, never queued
// durably (spec.md §4.J). Grounded on the teacher's oracle callback
// delivery path (packages/com.r3e.services.oracle/service/callback.go),
// generalized from "deliver one oracle result" to "deliver one rendered
// notification."
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cleanfleet/telemetry-core/pkg/changedetect"
	"github.com/cleanfleet/telemetry-core/pkg/ferrors"
	"github.com/cleanfleet/telemetry-core/pkg/resilience"
)

// SuppressionStore is the persistence surface the engine consults for the
// suppression window (spec.md §4.J step 3; implemented by pkg/store.Writer).
type SuppressionStore interface {
	LastNotified(ctx context.Context, database, serial, triggerType string) (time.Time, bool, error)
	RecordNotification(ctx context.Context, database, serial, triggerType string, at time.Time) error
}

// NameResolver resolves a robot serial to its tenant-friendly display
// name (spec.md §4.J step 2). Returns serial unchanged if no friendly
// name is configured.
type NameResolver func(serial string) string

// Event carries everything the engine needs to render and deliver one
// trigger (spec.md §4.H's Trigger, plus the template substitution fields
// specific to that trigger type).
type Event struct {
	Trigger  changedetect.Trigger
	Database string
	Fields   map[string]string // TaskName, Detail, etc — trigger-specific
}

// templateData is what Rule.MessageTemplate substitutes against.
type templateData struct {
	RobotName string
	Serial    string
	TaskName  string
	Detail    string
}

// Engine delivers trigger events to the configured notification sink.
type Engine struct {
	client           *http.Client
	notificationHost string
	rules            map[changedetect.TriggerType]Rule
	suppression      SuppressionStore
	resolveName      NameResolver
	retry            resilience.RetryConfig
}

// New constructs an Engine. notificationHost is the base URL of the
// notification API (spec.md §6); client should carry the 10s timeout
// budget spec.md §5 specifies for notification calls.
func New(client *http.Client, notificationHost string, suppression SuppressionStore, resolveName NameResolver) *Engine {
	if resolveName == nil {
		resolveName = func(serial string) string { return serial }
	}
	return &Engine{
		client:           client,
		notificationHost: strings.TrimSuffix(notificationHost, "/"),
		rules:            DefaultRules(),
		suppression:      suppression,
		resolveName:      resolveName,
		retry:            resilience.DefaultRetryConfig(),
	}
}

// NotificationTimeout is the per-call timeout budget for notification
// delivery (spec.md §5).
const NotificationTimeout = 10 * time.Second

// Handle processes one trigger event end to end: rule lookup, suppression
// check, render, deliver. Returns nil both when the notification was
// delivered and when it was correctly suppressed — only a hard failure
// after retry exhaustion is logged by the caller and otherwise ignored,
// per spec.md §4.J's "logged and dropped" policy; Handle reports that
// failure so the caller can log it, rather than swallowing it itself.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	rule, ok := e.rules[ev.Trigger.Type]
	if !ok {
		return nil // no rule declared for this trigger type: nothing to send
	}

	suppressed, err := e.isSuppressed(ctx, ev, rule)
	if err != nil {
		return err
	}
	if suppressed {
		return nil
	}

	message, err := e.render(rule, ev)
	if err != nil {
		return ferrors.New(ferrors.KindMalformed, "notify.Handle", err)
	}

	if err := e.deliver(ctx, ev, rule, message); err != nil {
		return err
	}

	return e.suppression.RecordNotification(ctx, ev.Database, ev.Trigger.Serial, string(ev.Trigger.Type), time.Now())
}

func (e *Engine) isSuppressed(ctx context.Context, ev Event, rule Rule) (bool, error) {
	last, found, err := e.suppression.LastNotified(ctx, ev.Database, ev.Trigger.Serial, string(ev.Trigger.Type))
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	window := rule.SuppressionWindow
	if window <= 0 {
		window = DefaultSuppressionWindow
	}
	return time.Since(last) < window, nil
}

func (e *Engine) render(rule Rule, ev Event) (string, error) {
	data := templateData{
		RobotName: e.resolveName(ev.Trigger.Serial),
		Serial:    ev.Trigger.Serial,
		TaskName:  ev.Fields["TaskName"],
		Detail:    ev.Fields["Detail"],
	}
	var buf bytes.Buffer
	if err := rule.MessageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type deliveryPayload struct {
	RobotSN   string            `json:"robot_sn"`
	Severity  string            `json:"severity"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Icon      string            `json:"icon"`
	Timestamp string            `json:"timestamp"`
	Metadata  map[string]string `json:"metadata"`
}

func (e *Engine) deliver(ctx context.Context, ev Event, rule Rule, message string) error {
	payload := deliveryPayload{
		RobotSN:   ev.Trigger.Serial,
		Severity:  rule.Severity,
		Title:     rule.Title,
		Message:   message,
		Icon:      rule.Icon,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metadata:  map[string]string{"delivery_id": uuid.NewString(), "trigger_type": string(ev.Trigger.Type)},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ferrors.New(ferrors.KindMalformed, "notify.deliver", err)
	}

	return resilience.Retry(ctx, e.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			e.notificationHost+"/notification-api/robot/notification/send", bytes.NewReader(body))
		if err != nil {
			return ferrors.New(ferrors.KindMalformed, "notify.deliver", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return ferrors.New(ferrors.KindTransient, "notify.deliver", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return ferrors.New(ferrors.KindTransient, "notify.deliver", fmt.Errorf("status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return ferrors.New(ferrors.KindPermanent, "notify.deliver", fmt.Errorf("status %d", resp.StatusCode))
		}
		return nil
	})
}
