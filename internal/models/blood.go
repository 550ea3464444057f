// internal/models/blood.go
package models

import (
	"fmt"
	"strings"
)

// BloodType is one of the eight ABO/Rh groups.
type BloodType int

const (
	APositive BloodType = iota
	ANegative
	BPositive
	BNegative
	ABPositive
	ABNegative
	OPositive
	ONegative
)

// BloodTypeCount is the size of the closed BloodType enumeration.
const BloodTypeCount = 8

var bloodTypeNames = [BloodTypeCount]string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

// AllBloodTypes lists every blood type in declaration order.
func AllBloodTypes() []BloodType {
	out := make([]BloodType, BloodTypeCount)
	for i := range out {
		out[i] = BloodType(i)
	}
	return out
}

func (b BloodType) Valid() bool {
	return b >= 0 && int(b) < BloodTypeCount
}

func (b BloodType) String() string {
	if !b.Valid() {
		return fmt.Sprintf("BloodType(%d)", int(b))
	}
	return bloodTypeNames[b]
}

// ABO returns the antigen group without the Rh suffix ("A", "B", "AB", "O").
func (b BloodType) ABO() string {
	return strings.TrimRight(b.String(), "+-")
}

// RhPositive reports whether the type carries the RhD antigen.
func (b BloodType) RhPositive() bool {
	return strings.HasSuffix(b.String(), "+")
}

// ParseBloodType parses the canonical notation ("AB-", "o+"). Unknown values
// return an error; callers at the edge wrap it as a validation error.
func ParseBloodType(s string) (BloodType, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range bloodTypeNames {
		if name == norm {
			return BloodType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown blood type %q", s)
}

func (b BloodType) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("invalid blood type %d", int(b))
	}
	return []byte(b.String()), nil
}

func (b *BloodType) UnmarshalText(text []byte) error {
	parsed, err := ParseBloodType(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Urgency is ordered Low < Medium < High < Emergency.
type Urgency int

const (
	UrgencyLow Urgency = iota + 1
	UrgencyMedium
	UrgencyHigh
	UrgencyEmergency
)

var urgencyNames = map[Urgency]string{
	UrgencyLow:       "low",
	UrgencyMedium:    "medium",
	UrgencyHigh:      "high",
	UrgencyEmergency: "emergency",
}

func (u Urgency) Valid() bool {
	_, ok := urgencyNames[u]
	return ok
}

func (u Urgency) String() string {
	if name, ok := urgencyNames[u]; ok {
		return name
	}
	return fmt.Sprintf("Urgency(%d)", int(u))
}

func ParseUrgency(s string) (Urgency, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for u, name := range urgencyNames {
		if name == norm {
			return u, nil
		}
	}
	return 0, fmt.Errorf("unknown urgency %q", s)
}

func (u Urgency) MarshalText() ([]byte, error) {
	if !u.Valid() {
		return nil, fmt.Errorf("invalid urgency %d", int(u))
	}
	return []byte(u.String()), nil
}

func (u *Urgency) UnmarshalText(text []byte) error {
	parsed, err := ParseUrgency(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
