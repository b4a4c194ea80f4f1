// Package webhook implements the Webhook Ingress (spec.md §4.F): per-vendor
// HTTP endpoints that authenticate an inbound callback, resolve its record
// kind via the vendor's declarative type-mapping table, apply the same
// field mappings the poller uses, and push the resulting record through
// pkg/pipeline — the same G→H→I→J stage sequence the Poller drives.
// Grounded on the teacher's cmd/gateway (gorilla/mux route registration,
// one handler per HTTP verb+path) and internal/httputil for response
// helpers.
package webhook

import (
	"context"
	"crypto/hmac"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/cleanfleet/telemetry-core/internal/httputil"
	"github.com/cleanfleet/telemetry-core/internal/logging"
	"github.com/cleanfleet/telemetry-core/pkg/ferrors"
	"github.com/cleanfleet/telemetry-core/pkg/model"
	"github.com/cleanfleet/telemetry-core/pkg/normalize"
	"github.com/cleanfleet/telemetry-core/pkg/routing"
	"github.com/cleanfleet/telemetry-core/pkg/vendor"
	"github.com/cleanfleet/telemetry-core/pkg/vendor/mapping"
)

// response is the fixed acknowledgement body every webhook route returns
// (spec.md §6).
type response struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// healthResponse is the fixed body of the health routes (spec.md §6).
type healthResponse struct {
	Status             string          `json:"status"`
	Timestamp          string          `json:"timestamp"`
	ConfiguredVendor   string          `json:"configured_vendor"`
	Features           map[string]bool `json:"features"`
	SupportedEndpoints []string        `json:"supported_endpoints"`
}

// Dispatcher is the subset of pkg/pipeline.Pipeline the webhook ingress
// drives. *pipeline.Pipeline satisfies this; declared separately so tests
// can substitute a stub instead of wiring a live database connection.
type Dispatcher interface {
	RobotState(ctx context.Context, s model.RobotState) error
	Task(ctx context.Context, t model.Task) error
	ChargingSession(ctx context.Context, c model.ChargingSession) error
	Event(ctx context.Context, e model.Event) error
}

// Server is the Webhook Ingress HTTP surface.
type Server struct {
	registry *vendor.Registry
	pipeline Dispatcher
	routes   *routing.Resolver // nil in tests that don't exercise the early unknown-serial check
	secrets  map[string]string // vendor id -> configured webhook secret; empty means skip verification
	log      *logging.Logger
	router   *mux.Router
}

// New builds a Server with routes registered. secrets maps vendor id to
// its configured webhook verification secret (spec.md §4.F step 1); a
// vendor absent from the map, or mapped to "", has verification skipped.
// routes is the same routing table the pipeline dispatches through; the
// ingress consults it directly via Known so an unrecognized serial gets
// the spec's 404 before a record is ever built or handed to the pipeline.
func New(registry *vendor.Registry, pl Dispatcher, secrets map[string]string, log *logging.Logger, routes *routing.Resolver) *Server {
	s := &Server{registry: registry, pipeline: pl, routes: routes, secrets: secrets, log: log, router: mux.NewRouter()}
	s.registerRoutes()
	return s
}

// Router exposes the underlying mux.Router for embedding into a parent
// process mux or for tests.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/api/webhook", s.handleBrandAgnostic).Methods(http.MethodPost)
	s.router.HandleFunc("/api/webhook/health", s.handleHealth("")).Methods(http.MethodGet)
	s.router.HandleFunc("/api/{vendor}/webhook", s.handleVendorWebhook).Methods(http.MethodPost)
	s.router.HandleFunc("/api/{vendor}/webhook/health", func(w http.ResponseWriter, r *http.Request) {
		s.handleHealth(mux.Vars(r)["vendor"])(w, r)
	}).Methods(http.MethodGet)
}

func (s *Server) handleVendorWebhook(w http.ResponseWriter, r *http.Request) {
	vendorID := mux.Vars(r)["vendor"]
	translator, err := s.registry.Translator(vendorID)
	if err != nil {
		writeResponse(w, http.StatusNotFound, "error", fmt.Sprintf("unknown vendor %q", vendorID))
		return
	}
	s.process(w, r, vendorID, translator)
}

// handleBrandAgnostic auto-detects the vendor via each registered
// adapter's DistinguishingField (spec.md §4.F). A payload matching more
// than one vendor's distinguishing field is rejected as malformed rather
// than silently defaulting to one (decided ambiguity, see DESIGN.md).
func (s *Server) handleBrandAgnostic(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeResponse(w, http.StatusBadRequest, "error", "unable to read request body")
		return
	}
	headerLookup := r.Header.Get

	root := gjson.ParseBytes(body)
	var matched []string
	for _, vendorID := range s.registry.Vendors() {
		translator, err := s.registry.Translator(vendorID)
		if err != nil {
			continue
		}
		if root.Get(translator.DistinguishingField()).Exists() {
			matched = append(matched, vendorID)
		}
	}

	switch len(matched) {
	case 0:
		writeResponse(w, http.StatusBadRequest, "error", "unable to detect vendor from payload")
	case 1:
		translator, err := s.registry.Translator(matched[0])
		if err != nil {
			writeResponse(w, http.StatusBadRequest, "error", "unable to detect vendor from payload")
			return
		}
		s.processBody(w, headerLookup, body, matched[0], translator)
	default:
		writeResponse(w, http.StatusBadRequest, "error", fmt.Sprintf("ambiguous payload matches vendors %s", strings.Join(matched, ",")))
	}
}

func (s *Server) process(w http.ResponseWriter, r *http.Request, vendorID string, translator vendor.WebhookTranslator) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeResponse(w, http.StatusBadRequest, "error", "unable to read request body")
		return
	}
	s.processBody(w, r.Header.Get, body, vendorID, translator)
}

func (s *Server) processBody(w http.ResponseWriter, headerLookup func(string) string, body []byte, vendorID string, translator vendor.WebhookTranslator) {
	spec := translator.Spec()
	if !verify(body, spec.Verification, s.secrets[vendorID], headerLookup) {
		writeResponse(w, http.StatusUnauthorized, "error", "webhook verification failed")
		return
	}

	eventType := gjson.GetBytes(body, spec.EventTypeField).String()
	kind, ok := spec.RecordKind(eventType)
	if !ok {
		writeResponse(w, http.StatusBadRequest, "error", fmt.Sprintf("unrecognized event type %q", eventType))
		return
	}
	if kind == "location" {
		writeResponse(w, http.StatusBadRequest, "error", "location records are not accepted over the webhook ingress")
		return
	}

	fields, err := mapping.Interpret(body, spec.FieldMappings[kind])
	if err != nil {
		writeResponse(w, http.StatusBadRequest, "error", "malformed payload")
		return
	}
	mapping.Drop(fields, spec.DropFields[kind])

	serial, _ := fields["serial"].(string)
	if serial == "" {
		writeResponse(w, http.StatusBadRequest, "error", "payload missing serial")
		return
	}
	if s.routes != nil && !s.routes.Known(serial) {
		writeResponse(w, http.StatusNotFound, "error", "unknown serial")
		return
	}

	record, err := translator.BuildRecord(kind, serial, fields, body)
	if err != nil {
		writeResponse(w, http.StatusBadRequest, "error", "malformed payload")
		return
	}

	ctx := logging.WithVendor(logging.WithSerial(context.Background(), serial), vendorID)
	if err := s.dispatch(ctx, kind, record); err != nil {
		s.respondForError(w, ctx, err)
		return
	}

	writeResponse(w, http.StatusOK, "ok", "accepted")
}

func (s *Server) dispatch(ctx context.Context, kind string, record any) error {
	switch kind {
	case "robot_state":
		return s.pipeline.RobotState(ctx, record.(model.RobotState))
	case "task":
		return s.pipeline.Task(ctx, record.(model.Task))
	case "charging_session":
		return s.pipeline.ChargingSession(ctx, record.(model.ChargingSession))
	case "event":
		return s.pipeline.Event(ctx, record.(model.Event))
	default:
		return fmt.Errorf("unsupported record kind %q", kind)
	}
}

func (s *Server) respondForError(w http.ResponseWriter, ctx context.Context, err error) {
	// Checked ahead of the generic Dropped branch: routing.Resolver.Route
	// classifies an unrecognized serial as ferrors.KindUnknownSerial and the
	// Normalizer now passes that classification through unwrapped, so it
	// never collapses into a generic Dropped and always gets the
	// spec-mandated 404 rather than a 400.
	if ferrors.Is(err, ferrors.KindUnknownSerial) {
		s.log.WithContext(ctx).Warn("webhook rejected: unknown serial")
		writeResponse(w, http.StatusNotFound, "error", "unknown serial")
		return
	}
	if dropped, ok := err.(normalize.Dropped); ok {
		s.log.DroppedRecord(ctx, dropped.Reason)
		writeResponse(w, http.StatusBadRequest, "error", dropped.Reason)
		return
	}
	s.log.WithContext(ctx).WithError(err).Error("webhook pipeline failure")
	writeResponse(w, http.StatusInternalServerError, "error", "internal error")
}

func (s *Server) handleHealth(vendorID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if vendorID != "" {
			if _, err := s.registry.Translator(vendorID); err != nil {
				writeJSON(w, http.StatusNotFound, response{Status: "error", Message: "unknown vendor", Timestamp: now()})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{
			Status:             "healthy",
			Timestamp:          now(),
			ConfiguredVendor:   vendorID,
			Features:           map[string]bool{"webhook_ingress": true, "brand_agnostic_detection": vendorID == ""},
			SupportedEndpoints: []string{"/api/webhook", "/api/{vendor}/webhook"},
		})
	}
}

// verify applies spec.md §4.F step 1. An empty configured secret skips
// verification entirely (a deliberate configuration choice for staging
// tenants, not a bug). headerLookup abstracts over http.Header.Get so
// tests can supply header values without constructing a full request.
func verify(body []byte, v mapping.VerificationSpec, secret string, headerLookup func(string) string) bool {
	if secret == "" {
		return true
	}
	var presented string
	switch v.Method {
	case mapping.VerifyHeader:
		presented = headerLookup(v.Key)
	case mapping.VerifyBody:
		presented = gjson.GetBytes(body, v.Key).String()
	default:
		return false
	}
	return hmac.Equal([]byte(presented), []byte(secret))
}

func writeResponse(w http.ResponseWriter, status int, statusField, message string) {
	writeJSON(w, status, response{Status: statusField, Message: message, Timestamp: now()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	httputil.WriteJSON(w, status, v)
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }
