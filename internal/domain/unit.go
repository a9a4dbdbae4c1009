package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the partition date format
const DateLayout = "2006-01-02"

// PartitionKey identifies one (category, date, slot) availability document
type PartitionKey struct {
	Category string `json:"category" bson:"category"`
	Date     string `json:"date" bson:"date"`
	Slot     string `json:"slot" bson:"slot"`
}

var slotPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// NewPartitionKey normalizes and validates a partition key
func NewPartitionKey(category, date, slot string) (PartitionKey, error) {
	pk := PartitionKey{
		Category: strings.ToLower(strings.TrimSpace(category)),
		Date:     strings.TrimSpace(date),
		Slot:     strings.ToLower(strings.TrimSpace(slot)),
	}
	return pk, pk.Validate()
}

// Validate checks the key fields
func (p PartitionKey) Validate() error {
	if p.Category == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidPartition)
	}
	if _, err := time.Parse(DateLayout, p.Date); err != nil {
		return fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidPartition, p.Date)
	}
	if !slotPattern.MatchString(p.Slot) {
		return fmt.Errorf("%w: slot %q", ErrInvalidPartition, p.Slot)
	}
	return nil
}

// EventDate returns the partition date at UTC midnight
func (p PartitionKey) EventDate() time.Time {
	t, _ := time.Parse(DateLayout, p.Date)
	return t
}

// String renders category:date:slot
func (p PartitionKey) String() string {
	return p.Category + ":" + p.Date + ":" + p.Slot
}

// ParsePartitionKey is the inverse of String
func ParsePartitionKey(s string) (PartitionKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return PartitionKey{}, fmt.Errorf("%w: %q", ErrInvalidPartition, s)
	}
	return NewPartitionKey(parts[0], parts[1], parts[2])
}

// UnitRecord is the state of one unit inside a partition. Absent means
// available.
type UnitRecord struct {
	Blocked        bool       `json:"blocked"`
	BlockExpiresAt *time.Time `json:"blockExpiresAt,omitempty"`
	Booked         bool       `json:"booked"`
	ReservationID  string     `json:"reservationId,omitempty"`
	HolderID       string     `json:"holderId,omitempty"`
	HolderName     string     `json:"holderName,omitempty"`
	BookedAt       *time.Time `json:"bookedAt,omitempty"`
}

// UnitState is the derived availability of a unit
type UnitState string

const (
	UnitAvailable UnitState = "available"
	UnitBlocked   UnitState = "blocked"
	UnitBooked    UnitState = "booked"
)

// StateAt derives the unit state; an expired block counts as available
func (u UnitRecord) StateAt(now time.Time) UnitState {
	switch {
	case u.Booked:
		return UnitBooked
	case u.Blocked && u.BlockExpiresAt != nil && u.BlockExpiresAt.After(now):
		return UnitBlocked
	case u.Blocked && u.BlockExpiresAt == nil:
		// A block without expiry is an anomaly; it still holds the unit
		// until the sweeper reclaims it.
		return UnitBlocked
	default:
		return UnitAvailable
	}
}

// Holder identifies who is reserving
type Holder struct {
	ID    string `json:"id" bson:"id"`
	Name  string `json:"name,omitempty" bson:"name,omitempty"`
	Email string `json:"email,omitempty" bson:"email,omitempty"`
}

// Validate checks the holder id
func (h Holder) Validate() error {
	if strings.TrimSpace(h.ID) == "" {
		return ErrInvalidHolder
	}
	return nil
}

var (
	legacySeatPattern = regexp.MustCompile(`^SEAT0*([0-9]{1,4})$`)
	digitsPattern     = regexp.MustCompile(`^0*([0-9]{1,4})$`)
	canonicalPattern  = regexp.MustCompile(`^([A-Z]{1,3})0*([0-9]{1,4})$`)
	separators        = strings.NewReplacer("-", "", "_", "", " ", "", ".", "")
)

// NormalizeUnitID maps every accepted spelling to one canonical id:
// "seat-12", "S_012" and "12" become "S12"; "a-7" becomes "A7".
func NormalizeUnitID(raw string) (string, error) {
	id := separators.Replace(strings.ToUpper(strings.TrimSpace(raw)))
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUnitID)
	}

	if m := legacySeatPattern.FindStringSubmatch(id); m != nil {
		return "S" + trimZeros(m[1]), nil
	}
	if m := digitsPattern.FindStringSubmatch(id); m != nil {
		return "S" + trimZeros(m[1]), nil
	}
	if m := canonicalPattern.FindStringSubmatch(id); m != nil {
		return m[1] + trimZeros(m[2]), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidUnitID, raw)
}

// NormalizeUnitIDs normalizes, dedupes and sorts ids
func NormalizeUnitIDs(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, ErrNoUnits
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		id, err := NormalizeUnitID(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func trimZeros(digits string) string {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return digits
	}
	return strconv.Itoa(n)
}
