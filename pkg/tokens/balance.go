package tokens

import (
	"errors"
	"fmt"
	"time"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationOpen      ReservationStatus = "open"
	ReservationFinalized ReservationStatus = "finalized"
	ReservationRefunded  ReservationStatus = "refunded"
)

// EntryKind tags a purchase history entry.
type EntryKind string

const (
	EntryPurchase EntryKind = "purchase"
	EntryGrant    EntryKind = "grant"
	EntryIncluded EntryKind = "included"
)

// Reservation escrows tokens for one in-flight metered operation.
type Reservation struct {
	ID      string            `json:"id"`
	Amount  int64             `json:"amount"`
	Feature string            `json:"feature"`
	Status  ReservationStatus `json:"status"`
	Actual  int64             `json:"actual"`
	// FromIncluded is the part of Amount drawn from the included allotment identified by IncludedRef.
	FromIncluded int64      `json:"from_included"`
	IncludedRef  string     `json:"included_ref,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
}

// PurchaseEntry records a credit to the balance.
type PurchaseEntry struct {
	Kind      EntryKind `json:"kind"`
	Amount    int64     `json:"amount"`
	Reference string    `json:"reference,omitempty"`
	Plan      string    `json:"plan,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageEntry records a settled reservation.
type UsageEntry struct {
	ReservationID string    `json:"reservation_id"`
	Feature       string    `json:"feature"`
	Reserved      int64     `json:"reserved"`
	Actual        int64     `json:"actual"`
	Charged       int64     `json:"charged"`
	CreatedAt     time.Time `json:"created_at"`
}

// Balance is the token state of one tenant.
//
// Balance counts spendable tokens; Included is the part of it that came from
// the current plan allotment and is replaced on every plan confirmation.
// Everything above Included is purchased or granted and survives plan changes.
type Balance struct {
	TenantID       string                 `json:"tenant_id"`
	Balance        int64                  `json:"balance"`
	Included       int64                  `json:"included"`
	IncludedPlan   string                 `json:"included_plan,omitempty"`
	IncludedRef    string                 `json:"included_ref,omitempty"`
	TotalPurchased int64                  `json:"total_purchased"`
	TotalGranted   int64                  `json:"total_granted"`
	TotalIncluded  int64                  `json:"total_included"`
	TotalUsed      int64                  `json:"total_used"`
	Reservations   map[string]Reservation `json:"reservations,omitempty"`
	Purchases      []PurchaseEntry        `json:"purchase_history,omitempty"`
	Usage          []UsageEntry           `json:"usage_history,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Purchased returns the part of the balance that is not plan allotment.
func (b *Balance) Purchased() int64 {
	return b.Balance - b.Included
}

// Reserved sums the amounts of open reservations.
func (b *Balance) Reserved() int64 {
	var total int64
	for _, r := range b.Reservations {
		if r.Status == ReservationOpen {
			total += r.Amount
		}
	}
	return total
}

// OpenReservations returns the number of open reservations.
func (b *Balance) OpenReservations() int {
	n := 0
	for _, r := range b.Reservations {
		if r.Status == ReservationOpen {
			n++
		}
	}
	return n
}

func (b *Balance) init(tenant string) {
	if b.TenantID == "" {
		b.TenantID = tenant
	}
	if b.Reservations == nil {
		b.Reservations = make(map[string]Reservation)
	}
}

func (b *Balance) hasPurchase(ref string) bool {
	for _, p := range b.Purchases {
		if p.Kind == EntryPurchase && p.Reference == ref {
			return true
		}
	}
	return false
}

// reserve escrows amount, drawing from the included allotment first.
func (b *Balance) reserve(id string, amount int64, feature string, now time.Time) error {
	if b.Balance < amount {
		return &InsufficientBalanceError{
			Required:  amount,
			Available: b.Balance,
			Shortfall: amount - b.Balance,
		}
	}

	fromIncluded := min(b.Included, amount)
	b.Balance -= amount
	b.Included -= fromIncluded
	b.Reservations[id] = Reservation{
		ID:           id,
		Amount:       amount,
		Feature:      feature,
		Status:       ReservationOpen,
		FromIncluded: fromIncluded,
		IncludedRef:  b.IncludedRef,
		CreatedAt:    now,
	}
	return nil
}

// settle closes an open reservation and returns the unused part.
// Usage above the reserved amount is not charged. Returned is the number of tokens credited back.
func (b *Balance) settle(id string, actual int64, status ReservationStatus, now time.Time) (returned int64, err error) {
	r, ok := b.Reservations[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrReservationNotFound, id)
	}
	if r.Status != ReservationOpen {
		return 0, fmt.Errorf("%w: %s is %s", ErrReservationSettled, id, r.Status)
	}

	charged := min(actual, r.Amount)
	returned = r.Amount - charged

	// The unused part goes back to the allotment it came from, unless that
	// allotment was replaced by a plan change in the meantime.
	toIncluded := min(returned, r.FromIncluded)
	if r.IncludedRef != b.IncludedRef {
		returned -= toIncluded
		toIncluded = 0
	}
	b.Balance += returned
	b.Included += toIncluded
	b.TotalUsed += charged

	r.Status = status
	r.Actual = actual
	r.SettledAt = &now
	b.Reservations[id] = r

	b.Usage = append(b.Usage, UsageEntry{
		ReservationID: id,
		Feature:       r.Feature,
		Reserved:      r.Amount,
		Actual:        actual,
		Charged:       charged,
		CreatedAt:     now,
	})
	return returned, nil
}

// setIncluded replaces the plan allotment and keeps the purchased part intact.
func (b *Balance) setIncluded(amount int64, plan, ref string, now time.Time) bool {
	if b.IncludedPlan == plan && b.IncludedRef == ref {
		return false
	}
	purchased := b.Purchased()
	b.Balance = purchased + amount
	b.Included = amount
	b.IncludedPlan = plan
	b.IncludedRef = ref
	b.TotalIncluded += amount
	b.Purchases = append(b.Purchases, PurchaseEntry{
		Kind:      EntryIncluded,
		Amount:    amount,
		Reference: ref,
		Plan:      plan,
		CreatedAt: now,
	})
	return true
}

// prune drops settled reservations older than retention. Usage history keeps their record.
func (b *Balance) prune(retention time.Duration, now time.Time) {
	if retention <= 0 {
		return
	}
	for id, r := range b.Reservations {
		if r.Status != ReservationOpen && r.SettledAt != nil && now.Sub(*r.SettledAt) > retention {
			delete(b.Reservations, id)
		}
	}
}

func (b *Balance) validate() error {
	var errs []error
	if b.Balance < 0 {
		errs = append(errs, fmt.Errorf("negative balance %d", b.Balance))
	}
	if b.Included < 0 || b.Included > b.Balance {
		errs = append(errs, fmt.Errorf("included %d outside [0, %d]", b.Included, b.Balance))
	}
	credited := b.TotalPurchased + b.TotalGranted + b.TotalIncluded
	if b.Balance+b.Reserved() > credited {
		errs = append(errs, fmt.Errorf("balance %d plus reserved %d exceeds credited %d", b.Balance, b.Reserved(), credited))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvariantViolation}, errs...)...)
	}
	return nil
}
