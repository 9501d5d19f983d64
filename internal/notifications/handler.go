package notifications

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/meridian-commerce/backbone/internal/httpmw"
)

// Handler serves the internal POST /events ingestion surface: an HTTP
// alternative to the stream path, idempotent by event id.
type Handler struct {
	svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type eventWire struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
}

type ingestResponseWire struct {
	Status string `json:"status"` // "accepted" or "duplicate"
}

// Ingest handles POST /events.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var wire eventWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		httpmw.WriteError(w, http.StatusBadRequest, "invalid request body", 0)
		return
	}
	if wire.EventType == "" || wire.AggregateID == uuid.Nil {
		httpmw.WriteError(w, http.StatusBadRequest, "event_type and aggregate_id are required", 0)
		return
	}

	duplicate := h.svc.Handle(r.Context(), Notification{
		EventID:     wire.EventID,
		EventType:   wire.EventType,
		AggregateID: wire.AggregateID,
		Payload:     string(wire.Payload),
	})
	if duplicate {
		httpmw.WriteJSON(w, http.StatusOK, ingestResponseWire{Status: "duplicate"})
		return
	}
	httpmw.WriteJSON(w, http.StatusOK, ingestResponseWire{Status: "accepted"})
}

// Recent handles GET /events/recent, a diagnostic view of the journal.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	httpmw.WriteJSON(w, http.StatusOK, h.svc.Recent(100))
}
