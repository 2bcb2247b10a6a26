package prescription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a prescription lifecycle event.
type EventType string

const (
	EventPrescriptionCreated EventType = "PrescriptionCreated"
	EventPrescriptionFilled  EventType = "PrescriptionFilled"
)

// Event is a serialized lifecycle event, written to the transactional
// outbox in the same transaction as the domain write and relayed to the
// broker by the outbox relay.
type Event struct {
	ID             string          `json:"id"`
	PrescriptionID string          `json:"prescription_id"`
	EventType      EventType       `json:"event_type"`
	EventData      json.RawMessage `json:"event_data"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewEvent builds an event envelope around a payload.
func NewEvent(prescriptionID uuid.UUID, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:             uuid.New().String(),
		PrescriptionID: prescriptionID.String(),
		EventType:      eventType,
		EventData:      eventData,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// CreatedEventData is the payload of EventPrescriptionCreated.
type CreatedEventData struct {
	PrescriptionID uuid.UUID           `json:"prescription_id"`
	DoctorID       uuid.UUID           `json:"doctor_id"`
	PatientID      uuid.UUID           `json:"patient_id"`
	Category       Category            `json:"category"`
	Code           string              `json:"code"`
	StartDate      time.Time           `json:"start_date"`
	EndDate        time.Time           `json:"end_date"`
	Drugs          []NewPrescribedDrug `json:"drugs"`
}

// FilledEventData is the payload of EventPrescriptionFilled.
type FilledEventData struct {
	FillID         uuid.UUID `json:"fill_id"`
	PrescriptionID uuid.UUID `json:"prescription_id"`
	PharmacistID   uuid.UUID `json:"pharmacist_id"`
	FilledAt       time.Time `json:"filled_at"`
}
