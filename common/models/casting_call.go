package models

import (
	"time"

	"github.com/google/uuid"
)

type CastingCallStatus string

const (
	StatusPendingReview CastingCallStatus = "pending_review"
	StatusActive        CastingCallStatus = "active"
	StatusOpen          CastingCallStatus = "open"
	StatusRejected      CastingCallStatus = "rejected"
	StatusCancelled     CastingCallStatus = "cancelled"
)

func (s CastingCallStatus) Valid() bool {
	switch s {
	case StatusPendingReview, StatusActive, StatusOpen, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Published reports whether the status is one a reader of the marketplace sees.
func (s CastingCallStatus) Published() bool {
	return s == StatusActive || s == StatusOpen
}

// CastingCallFields are the structured fields extracted from raw text.
type CastingCallFields struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Company      string   `json:"company"`
	Location     string   `json:"location"`
	Compensation string   `json:"compensation,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	Deadline     string   `json:"deadline,omitempty"`
	ContactInfo  string   `json:"contactInfo,omitempty"`
}

type CastingCall struct {
	ID           uuid.UUID         `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Company      string            `json:"company"`
	Location     string            `json:"location"`
	Compensation string            `json:"compensation,omitempty"`
	Requirements []string          `json:"requirements"`
	Deadline     string            `json:"deadline,omitempty"`
	ContactInfo  string            `json:"contactInfo,omitempty"`
	SourceURL    *string           `json:"sourceUrl,omitempty"`
	SourceName   string            `json:"sourceName,omitempty"`
	Status       CastingCallStatus `json:"status"`
	ContentHash  *string           `json:"contentHash,omitempty"`
	IsAggregated bool              `json:"isAggregated"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Fields returns the extractable part of the record.
func (c *CastingCall) Fields() CastingCallFields {
	return CastingCallFields{
		Title:        c.Title,
		Description:  c.Description,
		Company:      c.Company,
		Location:     c.Location,
		Compensation: c.Compensation,
		Requirements: c.Requirements,
		Deadline:     c.Deadline,
		ContactInfo:  c.ContactInfo,
	}
}

// CastingCallPatch holds the admin-editable fields. Anything else in an edit
// request body is ignored.
type CastingCallPatch struct {
	Title        *string   `json:"title,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Company      *string   `json:"company,omitempty"`
	Location     *string   `json:"location,omitempty"`
	Compensation *string   `json:"compensation,omitempty"`
	Requirements *[]string `json:"requirements,omitempty"`
	Deadline     *string   `json:"deadline,omitempty"`
	ContactInfo  *string   `json:"contactInfo,omitempty"`
}

func (p CastingCallPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Company == nil && p.Location == nil &&
		p.Compensation == nil && p.Requirements == nil && p.Deadline == nil && p.ContactInfo == nil
}

func (p CastingCallPatch) Apply(c *CastingCall) {
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Company != nil {
		c.Company = *p.Company
	}
	if p.Location != nil {
		c.Location = *p.Location
	}
	if p.Compensation != nil {
		c.Compensation = *p.Compensation
	}
	if p.Requirements != nil {
		c.Requirements = *p.Requirements
	}
	if p.Deadline != nil {
		c.Deadline = *p.Deadline
	}
	if p.ContactInfo != nil {
		c.ContactInfo = *p.ContactInfo
	}
}

type CallCounts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}
