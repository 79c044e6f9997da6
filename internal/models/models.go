package models

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a status change is not in the transition table.
var ErrInvalidTransition = errors.New("invalid state transition")

// Role tags a user record; role-specific data lives in the matching profile.
type Role string

const (
	RoleClient   Role = "CLIENT"
	RoleProducer Role = "PRODUCER"
	RoleCourier  Role = "COURIER"
	RoleAdmin    Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleProducer, RoleCourier, RoleAdmin:
		return true
	}
	return false
}

// User is the shared identity record. Exactly one of the profile pointers
// matches Role when the record is loaded with its profile.
type User struct {
	ID           int64     `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Phone        string    `db:"phone" json:"phone"`
	Email        *string   `db:"email" json:"email,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         Role      `db:"role" json:"role"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`

	Client   *ClientProfile   `db:"-" json:"client,omitempty"`
	Courier  *CourierProfile  `db:"-" json:"courier,omitempty"`
	Producer *ProducerProfile `db:"-" json:"producer,omitempty"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type UserFilter struct {
	Role   Role
	Limit  int
	Offset int
}

type ClientProfile struct {
	UserID        int64 `db:"user_id" json:"user_id"`
	LoyaltyPoints int   `db:"loyalty_points" json:"loyalty_points"`
}

type CourierProfile struct {
	UserID        int64     `db:"user_id" json:"user_id"`
	Available     bool      `db:"available" json:"available"`
	Latitude      *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude     *float64  `db:"longitude" json:"longitude,omitempty"`
	RatingAvg     float64   `db:"rating_avg" json:"rating_avg"`
	RatingCount   int       `db:"rating_count" json:"rating_count"`
	DeliveryCount int       `db:"delivery_count" json:"delivery_count"`
	Validated     bool      `db:"validated" json:"validated"`
	Independent   bool      `db:"independent" json:"independent"`
	ProducerID    *int64    `db:"producer_id" json:"producer_id,omitempty"`
	VehicleType   string    `db:"vehicle_type" json:"vehicle_type"`
	PlateNumber   string    `db:"plate_number" json:"plate_number"`
	CoverageZone  string    `db:"coverage_zone" json:"coverage_zone"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// HasPosition reports whether the courier has ever sent a GPS fix.
func (c *CourierProfile) HasPosition() bool {
	return c.Latitude != nil && c.Longitude != nil
}

type CourierFilter struct {
	Validated  *bool
	ProducerID int64
}

type ProducerProfile struct {
	UserID      int64    `db:"user_id" json:"user_id"`
	FarmName    string   `db:"farm_name" json:"farm_name"`
	Description string   `db:"description" json:"description"`
	FarmAddress string   `db:"farm_address" json:"farm_address"`
	Latitude    *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude   *float64 `db:"longitude" json:"longitude,omitempty"`
	Certified   bool     `db:"certified" json:"certified"`
	Validated   bool     `db:"validated" json:"validated"`
	RatingAvg   float64  `db:"rating_avg" json:"rating_avg"`
	RatingCount int      `db:"rating_count" json:"rating_count"`
	SalesCount  int      `db:"sales_count" json:"sales_count"`
}

type Address struct {
	ID         int64     `db:"id" json:"id"`
	ClientID   int64     `db:"client_id" json:"client_id"`
	Label      string    `db:"label" json:"label"`
	Street     string    `db:"street" json:"street"`
	District   string    `db:"district" json:"district"`
	City       string    `db:"city" json:"city"`
	Directions string    `db:"directions" json:"directions"`
	Latitude   *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude  *float64  `db:"longitude" json:"longitude,omitempty"`
	Primary    bool      `db:"is_primary" json:"primary"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

func (a *Address) HasCoordinates() bool {
	return a.Latitude != nil && a.Longitude != nil
}

func (a *Address) Formatted() string {
	parts := make([]string, 0, 3)
	if a.Street != "" {
		parts = append(parts, a.Street)
	}
	parts = append(parts, a.District, a.City)
	return strings.Join(parts, ", ")
}

type Category struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	Icon        string `db:"icon" json:"icon"`
	Active      bool   `db:"active" json:"active"`
	Position    int    `db:"position" json:"position"`
}

// Unit is the unit of sale of a product.
type Unit string

const (
	UnitPiece   Unit = "PIECE"
	UnitTray30  Unit = "TRAY_30"
	UnitCase180 Unit = "CASE_180"
	UnitCase360 Unit = "CASE_360"
)

// Multiplier is the number of eggs in one unit, or 0 for an unknown unit.
func (u Unit) Multiplier() int {
	switch u {
	case UnitPiece:
		return 1
	case UnitTray30:
		return 30
	case UnitCase180:
		return 180
	case UnitCase360:
		return 360
	}
	return 0
}

func (u Unit) Valid() bool {
	return u.Multiplier() > 0
}

type Product struct {
	ID          int64     `db:"id" json:"id"`
	ProducerID  int64     `db:"producer_id" json:"producer_id"`
	CategoryID  int64     `db:"category_id" json:"category_id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	ImageURL    string    `db:"image_url" json:"image_url"`
	Price       int64     `db:"price" json:"price"`
	Unit        Unit      `db:"unit" json:"unit"`
	Stock       int       `db:"stock" json:"stock"`
	Available   bool      `db:"available" json:"available"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CanFulfil reports whether quantity units may be sold right now.
func (p *Product) CanFulfil(quantity int) bool {
	return p.Available && p.Stock >= quantity
}

// Decrement removes quantity from stock. Reaching exactly zero marks the
// product unavailable.
func (p *Product) Decrement(quantity int) bool {
	if quantity <= 0 || p.Stock < quantity {
		return false
	}
	p.Stock -= quantity
	if p.Stock == 0 {
		p.Available = false
	}
	return true
}

func (p *Product) Increment(quantity int) {
	p.Stock += quantity
	if p.Stock > 0 {
		p.Available = true
	}
}

// SetStock overwrites stock and derives availability from it.
func (p *Product) SetStock(stock int) {
	if stock < 0 {
		stock = 0
	}
	p.Stock = stock
	p.Available = stock > 0
}

type ProductFilter struct {
	ProducerID    int64
	CategoryID    int64
	Search        string
	AvailableOnly bool
}

type PaymentMode string

const (
	PaymentModeMTNMoMo        PaymentMode = "MTN_MOMO"
	PaymentModeOrangeMoney    PaymentMode = "ORANGE_MONEY"
	PaymentModeCashOnDelivery PaymentMode = "CASH_ON_DELIVERY"
	PaymentModeCard           PaymentMode = "CARD"
)

func (m PaymentMode) Valid() bool {
	switch m {
	case PaymentModeMTNMoMo, PaymentModeOrangeMoney, PaymentModeCashOnDelivery, PaymentModeCard:
		return true
	}
	return false
}

// RequiresImmediatePayment is false only for cash on delivery.
func (m PaymentMode) RequiresImmediatePayment() bool {
	return m != PaymentModeCashOnDelivery
}

type Order struct {
	ID          int64       `db:"id" json:"id"`
	Reference   string      `db:"reference" json:"reference"`
	ClientID    int64       `db:"client_id" json:"client_id"`
	ProducerID  int64       `db:"producer_id" json:"producer_id"`
	AddressID   int64       `db:"address_id" json:"address_id"`
	Status      OrderStatus `db:"status" json:"status"`
	PaymentMode PaymentMode `db:"payment_mode" json:"payment_mode"`
	Subtotal    int64       `db:"subtotal" json:"subtotal"`
	DeliveryFee int64       `db:"delivery_fee" json:"delivery_fee"`
	Discount    int64       `db:"discount" json:"discount"`
	Total       int64       `db:"total" json:"total"`
	Paid        bool        `db:"paid" json:"paid"`
	TimeSlot    string      `db:"time_slot" json:"time_slot"`
	Notes       string      `db:"notes" json:"notes"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
	DeliveredAt *time.Time  `db:"delivered_at" json:"delivered_at,omitempty"`

	Lines    []OrderLine `db:"-" json:"lines"`
	Delivery *Delivery   `db:"-" json:"delivery,omitempty"`
}

// AddLine appends a line and recomputes the totals.
func (o *Order) AddLine(line OrderLine) {
	line.OrderID = o.ID
	line.Recalculate()
	o.Lines = append(o.Lines, line)
	o.Recalculate()
}

// RemoveLine drops the line for productID and recomputes the totals.
func (o *Order) RemoveLine(productID int64) bool {
	for i := range o.Lines {
		if o.Lines[i].ProductID == productID {
			o.Lines = append(o.Lines[:i], o.Lines[i+1:]...)
			o.Recalculate()
			return true
		}
	}
	return false
}

func (o *Order) ApplyDiscount(discount int64) {
	o.Discount = discount
	o.Recalculate()
}

// Recalculate restores total = subtotal + deliveryFee - discount.
func (o *Order) Recalculate() {
	var subtotal int64
	for i := range o.Lines {
		o.Lines[i].Recalculate()
		subtotal += o.Lines[i].LineTotal
	}
	o.Subtotal = subtotal
	o.Total = o.Subtotal + o.DeliveryFee - o.Discount
}

// TransitionTo applies a single step of the order table.
func (o *Order) TransitionTo(to OrderStatus, now time.Time) error {
	if !o.Status.CanTransition(to) {
		return fmt.Errorf("%w: order %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = now
	if to == OrderStatusDelivered {
		o.DeliveredAt = &now
	}
	return nil
}

// AdvanceTo walks the fulfilment path from the current status up to target,
// applying every intermediate step. It is a no-op when already at target.
func (o *Order) AdvanceTo(target OrderStatus, now time.Time) error {
	if o.Status == target {
		return nil
	}
	steps, ok := forwardSteps(orderFulfilmentPath, o.Status, target)
	if !ok {
		return fmt.Errorf("%w: order %s -> %s", ErrInvalidTransition, o.Status, target)
	}
	for _, step := range steps {
		if err := o.TransitionTo(step, now); err != nil {
			return err
		}
	}
	return nil
}

type OrderLine struct {
	ID        int64 `db:"id" json:"id"`
	OrderID   int64 `db:"order_id" json:"order_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
	UnitPrice int64 `db:"unit_price" json:"unit_price"`
	LineTotal int64 `db:"line_total" json:"line_total"`
}

func (l *OrderLine) Recalculate() {
	l.LineTotal = l.UnitPrice * int64(l.Quantity)
}

type OrderFilter struct {
	ClientID   int64
	ProducerID int64
	Status     OrderStatus
	Since      *time.Time
	Limit      int
	Offset     int
}

type OrderRating struct {
	OrderID       int64     `db:"order_id" json:"order_id"`
	ClientID      int64     `db:"client_id" json:"client_id"`
	ProducerScore int       `db:"producer_score" json:"producer_score"`
	CourierScore  *int      `db:"courier_score" json:"courier_score,omitempty"`
	Comment       string    `db:"comment" json:"comment"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type Payment struct {
	ID            int64         `db:"id" json:"id"`
	Reference     string        `db:"reference" json:"reference"`
	TransactionID string        `db:"transaction_id" json:"transaction_id"`
	OrderID       int64         `db:"order_id" json:"order_id"`
	Amount        int64         `db:"amount" json:"amount"`
	Mode          PaymentMode   `db:"mode" json:"mode"`
	Status        PaymentStatus `db:"status" json:"status"`
	Phone         string        `db:"phone" json:"phone"`
	InitiatedAt   time.Time     `db:"initiated_at" json:"initiated_at"`
	ConfirmedAt   *time.Time    `db:"confirmed_at" json:"confirmed_at,omitempty"`
}

// Resolve moves a pending payment to a terminal status.
func (p *Payment) Resolve(to PaymentStatus, now time.Time) error {
	if !p.Status.CanTransition(to) {
		return fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	p.ConfirmedAt = &now
	return nil
}

type Delivery struct {
	ID               int64          `db:"id" json:"id"`
	OrderID          int64          `db:"order_id" json:"order_id"`
	CourierID        int64          `db:"courier_id" json:"courier_id"`
	Status           DeliveryStatus `db:"status" json:"status"`
	ConfirmationCode string         `db:"confirmation_code" json:"confirmation_code,omitempty"`
	DistanceKm       float64        `db:"distance_km" json:"distance_km"`
	EstimatedMinutes int            `db:"estimated_minutes" json:"estimated_minutes"`
	Notes            string         `db:"notes" json:"notes"`
	ProofPhotoURL    string         `db:"proof_photo_url" json:"proof_photo_url,omitempty"`
	AssignedAt       time.Time      `db:"assigned_at" json:"assigned_at"`
	AcceptedAt       *time.Time     `db:"accepted_at" json:"accepted_at,omitempty"`
	PickedUpAt       *time.Time     `db:"picked_up_at" json:"picked_up_at,omitempty"`
	CompletedAt      *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`

	Positions []GPSPosition `db:"-" json:"positions,omitempty"`
}

// TransitionTo applies a single step of the delivery table and stamps the
// matching milestone.
func (d *Delivery) TransitionTo(to DeliveryStatus, now time.Time) error {
	if !d.Status.CanTransition(to) {
		return fmt.Errorf("%w: delivery %s -> %s", ErrInvalidTransition, d.Status, to)
	}
	d.Status = to
	d.UpdatedAt = now
	switch to {
	case DeliveryStatusAccepted:
		d.AcceptedAt = &now
	case DeliveryStatusPickedUp:
		d.PickedUpAt = &now
	case DeliveryStatusDelivered:
		d.CompletedAt = &now
	}
	return nil
}

// AdvanceTo walks the hand-off path up to target, one table step at a time.
func (d *Delivery) AdvanceTo(target DeliveryStatus, now time.Time) error {
	if d.Status == target {
		return nil
	}
	steps, ok := forwardSteps(deliveryHandoffPath, d.Status, target)
	if !ok {
		return fmt.Errorf("%w: delivery %s -> %s", ErrInvalidTransition, d.Status, target)
	}
	for _, step := range steps {
		if err := d.TransitionTo(step, now); err != nil {
			return err
		}
	}
	return nil
}

// VerifyCode compares the hand-off code. The result is advisory.
func (d *Delivery) VerifyCode(code string) bool {
	return d.ConfirmationCode != "" && d.ConfirmationCode == code
}

type DeliveryFilter struct {
	CourierID int64
	Statuses  []DeliveryStatus
	Since     *time.Time
}

type GPSPosition struct {
	ID         int64     `db:"id" json:"id"`
	DeliveryID int64     `db:"delivery_id" json:"delivery_id"`
	Latitude   float64   `db:"latitude" json:"latitude"`
	Longitude  float64   `db:"longitude" json:"longitude"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// NewOrderReference builds EGG-<year>-<8 uppercase hex>.
func NewOrderReference(now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("EGG-%d-%s", now.Year(), strings.ToUpper(id[:8]))
}

// NewConfirmationCode returns a zero-padded 4 digit code.
func NewConfirmationCode() string {
	return fmt.Sprintf("%04d", rand.Intn(10000))
}

// NextAverage folds score into an incremental mean over n prior ratings.
func NextAverage(avg float64, n int, score float64) float64 {
	if n <= 0 {
		return score
	}
	return (avg*float64(n) + score) / float64(n+1)
}
