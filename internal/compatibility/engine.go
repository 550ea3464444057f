// Package compatibility holds the ABO/Rh donor-recipient rules.
package compatibility

import (
	"fmt"

	"bloodlink/internal/models"
)

// table[donor][recipient] is true when donor blood can be given to recipient.
var table = [models.BloodTypeCount][models.BloodTypeCount]bool{
	//                 A+     A-     B+     B-     AB+    AB-    O+     O-
	models.APositive:  {true, false, false, false, true, false, false, false},
	models.ANegative:  {true, true, false, false, true, true, false, false},
	models.BPositive:  {false, false, true, false, true, false, false, false},
	models.BNegative:  {false, false, true, true, true, true, false, false},
	models.ABPositive: {false, false, false, false, true, false, false, false},
	models.ABNegative: {false, false, false, false, true, true, false, false},
	models.OPositive:  {true, false, true, false, true, false, true, false},
	models.ONegative:  {true, true, true, true, true, true, true, true},
}

// CanDonate reports whether donor blood is compatible with the recipient.
// Out-of-range types are a programming error and panic.
func CanDonate(donor, recipient models.BloodType) bool {
	mustValid(donor)
	mustValid(recipient)
	return table[donor][recipient]
}

// CompatibleDonors returns every donor type that can give to recipient, in
// enum order. Used to pre-filter candidate pools.
func CompatibleDonors(recipient models.BloodType) []models.BloodType {
	mustValid(recipient)
	out := make([]models.BloodType, 0, models.BloodTypeCount)
	for _, d := range models.AllBloodTypes() {
		if table[d][recipient] {
			out = append(out, d)
		}
	}
	return out
}

// CompatibleRecipients returns every recipient type donor can give to.
func CompatibleRecipients(donor models.BloodType) []models.BloodType {
	mustValid(donor)
	out := make([]models.BloodType, 0, models.BloodTypeCount)
	for _, r := range models.AllBloodTypes() {
		if table[donor][r] {
			out = append(out, r)
		}
	}
	return out
}

// Score grades a compatible pairing for the compatibility ranking mode:
// exact match 100, same ABO group 85, same Rh factor 75, any other
// compatible pairing 60, incompatible 0.
func Score(donor, recipient models.BloodType) float64 {
	if !CanDonate(donor, recipient) {
		return 0
	}
	switch {
	case donor == recipient:
		return 100
	case donor.ABO() == recipient.ABO():
		return 85
	case donor.RhPositive() == recipient.RhPositive():
		return 75
	default:
		return 60
	}
}

// ValidateTable re-derives every cell from the ABO and Rh rules and fails if
// the table disagrees or does not hold exactly 32 compatible pairs. Run once
// at startup.
func ValidateTable() error {
	count := 0
	for _, d := range models.AllBloodTypes() {
		for _, r := range models.AllBloodTypes() {
			want := aboCompatible(d.ABO(), r.ABO()) && (!d.RhPositive() || r.RhPositive())
			if table[d][r] != want {
				return fmt.Errorf("compatibility table disagrees for %s -> %s: have %v want %v", d, r, table[d][r], want)
			}
			if want {
				count++
			}
		}
	}
	if count != 32 {
		return fmt.Errorf("compatibility table has %d compatible pairs, want 32", count)
	}
	return nil
}

func aboCompatible(donor, recipient string) bool {
	switch donor {
	case "O":
		return true
	case "A":
		return recipient == "A" || recipient == "AB"
	case "B":
		return recipient == "B" || recipient == "AB"
	case "AB":
		return recipient == "AB"
	}
	return false
}

func mustValid(b models.BloodType) {
	if !b.Valid() {
		panic(fmt.Sprintf("compatibility: invalid blood type %d", int(b)))
	}
}
