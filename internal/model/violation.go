package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ViolationStatus tracks an officer's handling of a violation.
type ViolationStatus string

const (
	ViolationOpen       ViolationStatus = "open"
	ViolationInProgress ViolationStatus = "in_progress"
	ViolationResolved   ViolationStatus = "resolved"
	ViolationDismissed  ViolationStatus = "dismissed"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = eris.New("invalid violation status transition")

// Terminal reports whether no further transitions are possible.
func (s ViolationStatus) Terminal() bool {
	return s == ViolationResolved || s == ViolationDismissed
}

// CanTransition reports whether a violation may move from s to next.
func (s ViolationStatus) CanTransition(next ViolationStatus) bool {
	switch s {
	case ViolationOpen:
		return next == ViolationInProgress || next == ViolationResolved || next == ViolationDismissed
	case ViolationInProgress:
		return next == ViolationResolved || next == ViolationDismissed
	default:
		return false
	}
}

// ProductSnapshot is the subset of product fields captured as evidence.
type ProductSnapshot struct {
	Name            string   `json:"name"`
	Brand           string   `json:"brand,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	Weight          string   `json:"weight,omitempty"`
	CountryOfOrigin string   `json:"country_of_origin,omitempty"`
	Manufacturer    string   `json:"manufacturer,omitempty"`
}

// Evidence records what the rule saw when it failed.
type Evidence struct {
	Product   ProductSnapshot   `json:"product_data"`
	Extracted map[string]string `json:"extracted_data"`
	RuleID    string            `json:"rule_id"`
}

// Violation is one failed rule for one scanned product.
type Violation struct {
	ID              string            `json:"id"`
	ProductID       string            `json:"product_id"`
	RuleID          string            `json:"rule_id"`
	Category        ViolationCategory `json:"violation_type"`
	Severity        Severity          `json:"severity"`
	Description     string            `json:"description"`
	Reference       string            `json:"rule_reference"`
	Evidence        Evidence          `json:"evidence"`
	Status          ViolationStatus   `json:"status"`
	AssignedTo      string            `json:"assigned_to,omitempty"`
	ResolutionNotes string            `json:"resolution_notes,omitempty"`
	DetectedAt      time.Time         `json:"detected_at"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
}

// ApplyTransition moves v to next, stamping resolution details.
func (v *Violation) ApplyTransition(next ViolationStatus, assignee, notes string, now time.Time) error {
	if !v.Status.CanTransition(next) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", v.Status, next)
	}
	v.Status = next
	if assignee != "" {
		v.AssignedTo = assignee
	}
	if notes != "" {
		v.ResolutionNotes = notes
	}
	if next.Terminal() {
		t := now.UTC()
		v.ResolvedAt = &t
	}
	return nil
}
