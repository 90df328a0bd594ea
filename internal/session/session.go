// Package session models one two-stage weighing transaction (the Live Load
// workflow) as an explicit finite state machine. State is persisted after
// every transition so an in-progress transaction survives power or
// connectivity loss mid-capture.
package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the capture session's position in the workflow.
type State string

const (
	StateAwaitingGross     State = "awaiting_gross"
	StateAwaitingTare      State = "awaiting_tare"
	StateAwaitingPhotos    State = "awaiting_photos"
	StateAwaitingSignature State = "awaiting_signature"
	StateComplete          State = "complete"
	StateCancelled         State = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateCancelled
}

// MinDebrisPhotos is the compliance floor: a ticket may not progress past the
// photo stage with fewer.
const MinDebrisPhotos = 3

// Metadata identifies the haul being weighed.
type Metadata struct {
	ProjectID    string `json:"project_id"`
	VehicleID    string `json:"vehicle_id"`
	MaterialType string `json:"material_type"`
	FacilityID   string `json:"facility_id"`
}

// Validate checks the fields required to start a session.
func (m Metadata) Validate() error {
	switch {
	case m.ProjectID == "":
		return fmt.Errorf("project id is required")
	case m.VehicleID == "":
		return fmt.Errorf("vehicle id is required")
	case m.MaterialType == "":
		return fmt.Errorf("material type is required")
	case m.FacilityID == "":
		return fmt.Errorf("facility id is required")
	}
	return nil
}

// CaptureSession is one in-progress or completed two-stage weighing
// transaction. Gross fields are recorded once in awaiting_gross and immutable
// thereafter; likewise tare fields and the signature. NetWeight is derived
// the instant tare is recorded and never independently set.
type CaptureSession struct {
	ID       string   `json:"id"`
	State    State    `json:"state"`
	Metadata Metadata `json:"metadata"`

	GrossWeight    float64    `json:"gross_weight,omitempty"`
	GrossTimestamp *time.Time `json:"gross_timestamp,omitempty"`
	GrossLocation  *Location  `json:"gross_location,omitempty"`

	TareWeight    float64    `json:"tare_weight,omitempty"`
	TareTimestamp *time.Time `json:"tare_timestamp,omitempty"`
	TareLocation  *Location  `json:"tare_location,omitempty"`

	NetWeight *float64 `json:"net_weight,omitempty"`

	DebrisPhotos []Photo    `json:"debris_photos,omitempty"`
	Signature    *Signature `json:"signature,omitempty"`

	TicketNumber string    `json:"ticket_number,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// clone returns a deep copy. Transitions mutate a clone and commit it only
// after the clone has been persisted, so a storage failure leaves both the
// store and the in-memory session untouched.
func (s *CaptureSession) clone() *CaptureSession {
	cp := *s
	if s.GrossTimestamp != nil {
		t := *s.GrossTimestamp
		cp.GrossTimestamp = &t
	}
	if s.GrossLocation != nil {
		l := *s.GrossLocation
		cp.GrossLocation = &l
	}
	if s.TareTimestamp != nil {
		t := *s.TareTimestamp
		cp.TareTimestamp = &t
	}
	if s.TareLocation != nil {
		l := *s.TareLocation
		cp.TareLocation = &l
	}
	if s.NetWeight != nil {
		n := *s.NetWeight
		cp.NetWeight = &n
	}
	if s.DebrisPhotos != nil {
		cp.DebrisPhotos = make([]Photo, len(s.DebrisPhotos))
		copy(cp.DebrisPhotos, s.DebrisPhotos)
	}
	if s.Signature != nil {
		sig := *s.Signature
		cp.Signature = &sig
	}
	return &cp
}

// ticketPayload is the wire shape of the finished ticket handed to the
// operation queue, matching the backend's create-ticket request.
type ticketPayload struct {
	TicketNumber   string     `json:"ticketNumber"`
	ProjectID      string     `json:"projectId"`
	VehicleID      string     `json:"vehicleId"`
	MaterialType   string     `json:"materialType"`
	FacilityID     string     `json:"facilityId"`
	GrossWeight    float64    `json:"grossWeight"`
	GrossTimestamp *time.Time `json:"grossTimestamp,omitempty"`
	GrossLocation  *Location  `json:"grossLocation,omitempty"`
	TareWeight     float64    `json:"tareWeight"`
	TareTimestamp  *time.Time `json:"tareTimestamp,omitempty"`
	TareLocation   *Location  `json:"tareLocation,omitempty"`
	NetWeight      float64    `json:"netWeight"`
	PhotoIDs       []string   `json:"photoIds"`
	Signature      *Signature `json:"signature"`
	Source         string     `json:"source"`
}

// ticketBody marshals the completed session into the create-ticket request body.
func (s *CaptureSession) ticketBody() ([]byte, error) {
	photoIDs := make([]string, 0, len(s.DebrisPhotos))
	for _, p := range s.DebrisPhotos {
		photoIDs = append(photoIDs, p.ID)
	}
	var net float64
	if s.NetWeight != nil {
		net = *s.NetWeight
	}
	return json.Marshal(ticketPayload{
		TicketNumber:   s.TicketNumber,
		ProjectID:      s.Metadata.ProjectID,
		VehicleID:      s.Metadata.VehicleID,
		MaterialType:   s.Metadata.MaterialType,
		FacilityID:     s.Metadata.FacilityID,
		GrossWeight:    s.GrossWeight,
		GrossTimestamp: s.GrossTimestamp,
		GrossLocation:  s.GrossLocation,
		TareWeight:     s.TareWeight,
		TareTimestamp:  s.TareTimestamp,
		TareLocation:   s.TareLocation,
		NetWeight:      net,
		PhotoIDs:       photoIDs,
		Signature:      s.Signature,
		Source:         "field_capture",
	})
}

// ticketEndpoint is the backend route the finished ticket is delivered to.
func (s *CaptureSession) ticketEndpoint() string {
	return fmt.Sprintf("/api/projects/%s/tickets", s.Metadata.ProjectID)
}
