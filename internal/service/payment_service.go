package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"egg-market/internal/apperr"
	"egg-market/internal/models"
	"egg-market/internal/store"
	"egg-market/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentService simulates mobile-money payments against an order total.
type PaymentService struct {
	store  DataStore
	events EventPublisher
	logger *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(st DataStore, events EventPublisher) *PaymentService {
	return &PaymentService{
		store:  st,
		events: events,
		logger: util.GetLogger(),
	}
}

// InitiatePaymentRequest starts a payment attempt.
type InitiatePaymentRequest struct {
	OrderID int64              `json:"order_id" binding:"required"`
	Amount  int64              `json:"amount" binding:"required"`
	Mode    models.PaymentMode `json:"mode"`
	Phone   string             `json:"phone"`
}

// ConfirmPaymentRequest carries the simulated operator answer. A non-empty
// SimulationMode wins over Code.
type ConfirmPaymentRequest struct {
	Code           string `json:"code"`
	SimulationMode string `json:"simulation_mode"`
}

// PaymentResult is a payment plus the operator message shown to the payer.
type PaymentResult struct {
	Payment *models.Payment `json:"payment"`
	Message string          `json:"message"`
}

// SimulationInfo documents the codes accepted by ConfirmPayment.
type SimulationInfo struct {
	Codes map[string][]string `json:"codes"`
	Note  string              `json:"note"`
}

var simulationOutcomes = map[string]models.PaymentStatus{
	"1234":    models.PaymentStatusSucceeded,
	"SUCCESS": models.PaymentStatusSucceeded,
	"OK":      models.PaymentStatusSucceeded,
	"0000":    models.PaymentStatusFailed,
	"FAILED":  models.PaymentStatusFailed,
	"ECHEC":   models.PaymentStatusFailed,
	"9999":    models.PaymentStatusExpired,
	"TIMEOUT": models.PaymentStatusExpired,
	"CANCEL":  models.PaymentStatusCancelled,
	"ANNULE":  models.PaymentStatusCancelled,
}

// simulateOutcome maps the operator answer to a terminal status. ok is false
// for unknown answers, which leave the payment pending.
func simulateOutcome(code, mode string) (models.PaymentStatus, bool) {
	answer := strings.TrimSpace(mode)
	if answer == "" {
		answer = strings.TrimSpace(code)
	}
	status, ok := simulationOutcomes[strings.ToUpper(answer)]
	return status, ok
}

func paymentReference(mode models.PaymentMode, now time.Time) string {
	prefix := "PAY"
	switch mode {
	case models.PaymentModeOrangeMoney:
		prefix = "OM"
	case models.PaymentModeMTNMoMo:
		prefix = "MOMO"
	case models.PaymentModeCashOnDelivery:
		prefix = "CASH"
	}
	return fmt.Sprintf("%s-%d-%d", prefix, now.UnixMilli(), rand.Intn(1000))
}

func transactionID(mode models.PaymentMode, now time.Time) string {
	switch mode {
	case models.PaymentModeOrangeMoney:
		id := strings.ReplaceAll(uuid.NewString(), "-", "")
		return "CM.OM." + strings.ToUpper(id[:12])
	case models.PaymentModeMTNMoMo:
		return fmt.Sprintf("MOMO%d%d", now.UnixMilli(), rand.Intn(10000))
	}
	return uuid.NewString()
}

func promptMessage(mode models.PaymentMode, amount int64) string {
	switch mode {
	case models.PaymentModeOrangeMoney:
		return fmt.Sprintf("Orange Money: payment request of %d FCFA for EggGo. Enter your secret code to validate.", amount)
	case models.PaymentModeMTNMoMo:
		return fmt.Sprintf("MTN MoMo: confirm the payment of %d FCFA to EggGo. Enter your PIN to authorize.", amount)
	}
	return "Payment awaiting validation"
}

func outcomeMessage(p *models.Payment) string {
	switch p.Status {
	case models.PaymentStatusSucceeded:
		switch p.Mode {
		case models.PaymentModeOrangeMoney:
			return fmt.Sprintf("Orange Money: transaction successful, %d FCFA sent to EggGo. Ref: %s.", p.Amount, p.TransactionID)
		case models.PaymentModeMTNMoMo:
			return fmt.Sprintf("MTN MoMo: payment of %d FCFA confirmed. ID: %s.", p.Amount, p.TransactionID)
		}
		return "Payment confirmed"
	case models.PaymentStatusFailed:
		switch p.Mode {
		case models.PaymentModeOrangeMoney:
			return "Orange Money: transaction failed. Insufficient balance or wrong code."
		case models.PaymentModeMTNMoMo:
			return "MTN MoMo: payment refused. Check your balance and retry."
		}
		return "Payment failed"
	case models.PaymentStatusExpired:
		return "Validation delay exceeded. Transaction cancelled."
	case models.PaymentStatusCancelled:
		return "Transaction cancelled by the user."
	}
	return "Invalid code. Please retry."
}

// requireOrderClient checks the actor is the order's client or an admin.
func requireOrderClient(actor Actor, o *models.Order) error {
	if actor.IsAdmin() || actor.is(models.RoleClient, o.ClientID) {
		return nil
	}
	return apperr.New(apperr.Unauthorized, "order belongs to another client")
}

// Initiate opens a payment attempt for the exact order total.
func (s *PaymentService) Initiate(ctx context.Context, actor Actor, req InitiatePaymentRequest) (res *PaymentResult, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Initiate", attribute.Int64("order_id", req.OrderID))
	defer func() { util.EndSpan(span, err) }()

	var payment *models.Payment
	err = s.store.InTx(ctx, func(q store.Querier) error {
		o, err := loadOrderForUpdate(ctx, q, req.OrderID)
		if err != nil {
			return err
		}
		if err := requireOrderClient(actor, o); err != nil {
			return err
		}
		if o.Paid {
			return apperr.New(apperr.InvalidState, "order is already paid")
		}
		if o.Status.Terminal() {
			return apperr.Newf(apperr.InvalidState, "order %s is %s", o.Reference, o.Status)
		}
		if req.Amount != o.Total {
			return apperr.Newf(apperr.Validation, "amount %d does not match order total %d", req.Amount, o.Total)
		}

		mode := req.Mode
		if mode == "" {
			mode = o.PaymentMode
		}
		if !mode.Valid() {
			return apperr.Newf(apperr.Validation, "unknown payment mode %q", mode)
		}
		if !mode.RequiresImmediatePayment() {
			return apperr.New(apperr.Validation, "cash on delivery is settled at hand-off")
		}

		now := nowUTC()
		payment = &models.Payment{
			Reference:     paymentReference(mode, now),
			TransactionID: transactionID(mode, now),
			OrderID:       o.ID,
			Amount:        req.Amount,
			Mode:          mode,
			Status:        models.PaymentStatusPending,
			Phone:         req.Phone,
			InitiatedAt:   now,
		}
		return storeErr(q.CreatePayment(ctx, payment), "payment")
	})
	if err != nil {
		return nil, err
	}

	util.PaymentAttemptsTotal.WithLabelValues(string(payment.Mode)).Inc()
	s.logger.Info("Payment initiated",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", payment.OrderID),
		zap.String("reference", payment.Reference),
		zap.String("transaction_id", payment.TransactionID))

	return &PaymentResult{Payment: payment, Message: promptMessage(payment.Mode, payment.Amount)}, nil
}

// Confirm resolves a pending payment from the simulated operator answer.
// Success marks the order paid and confirms a pending order in the same
// transaction. Unknown answers keep the payment pending.
func (s *PaymentService) Confirm(ctx context.Context, actor Actor, paymentID int64, req ConfirmPaymentRequest) (res *PaymentResult, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Confirm", attribute.Int64("payment_id", paymentID))
	defer func() { util.EndSpan(span, err) }()

	var payment *models.Payment
	var order *models.Order
	var orderFrom models.OrderStatus
	err = s.store.InTx(ctx, func(q store.Querier) error {
		p, err := q.LockPayment(ctx, paymentID)
		if err != nil {
			return storeErr(err, "payment")
		}
		o, err := loadOrderForUpdate(ctx, q, p.OrderID)
		if err != nil {
			return err
		}
		if err := requireOrderClient(actor, o); err != nil {
			return err
		}
		if p.Status.Terminal() {
			return apperr.Newf(apperr.InvalidState, "payment %s is already %s", p.Reference, p.Status)
		}
		payment, order, orderFrom = p, o, o.Status

		outcome, ok := simulateOutcome(req.Code, req.SimulationMode)
		if !ok {
			return nil
		}
		if outcome == models.PaymentStatusSucceeded && o.Paid {
			return apperr.Newf(apperr.InvalidState, "order %s is already paid", o.Reference)
		}

		now := nowUTC()
		if err := p.Resolve(outcome, now); err != nil {
			return transitionErr(err)
		}
		if err := q.UpdatePayment(ctx, p); err != nil {
			return storeErr(err, "payment")
		}
		if outcome != models.PaymentStatusSucceeded {
			return nil
		}

		o.Paid = true
		if o.Status == models.OrderStatusPending {
			if err := o.TransitionTo(models.OrderStatusConfirmed, now); err != nil {
				return transitionErr(err)
			}
		}
		return storeErr(q.UpdateOrder(ctx, o), "order")
	})
	if err != nil {
		return nil, err
	}

	if payment.Status == models.PaymentStatusPending {
		s.logger.Info("Payment answer not recognised, still pending",
			zap.Int64("payment_id", payment.ID))
		return &PaymentResult{Payment: payment, Message: outcomeMessage(payment)}, nil
	}

	s.resolved(ctx, payment)
	announceOrder(ctx, s.logger, s.events, order, orderFrom, "payment received")
	return &PaymentResult{Payment: payment, Message: outcomeMessage(payment)}, nil
}

func (s *PaymentService) resolved(ctx context.Context, p *models.Payment) {
	util.PaymentOutcomesTotal.WithLabelValues(string(p.Status)).Inc()
	s.logger.Info("Payment resolved",
		zap.Int64("payment_id", p.ID),
		zap.Int64("order_id", p.OrderID),
		zap.String("status", string(p.Status)))

	event := &models.PaymentEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypePaymentResolved),
		PaymentID:     p.ID,
		Reference:     p.Reference,
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		Status:        p.Status,
		TransactionID: p.TransactionID,
	}
	emit(ctx, s.logger, models.EventTypePaymentResolved, func(ctx context.Context) error {
		return s.events.PublishPaymentEvent(ctx, event)
	})
}

// Cancel abandons a pending payment.
func (s *PaymentService) Cancel(ctx context.Context, actor Actor, paymentID int64) (*PaymentResult, error) {
	var payment *models.Payment
	err := s.store.InTx(ctx, func(q store.Querier) error {
		p, err := q.LockPayment(ctx, paymentID)
		if err != nil {
			return storeErr(err, "payment")
		}
		o, err := q.GetOrder(ctx, p.OrderID)
		if err != nil {
			return storeErr(err, "order")
		}
		if err := requireOrderClient(actor, o); err != nil {
			return err
		}
		if p.Status != models.PaymentStatusPending {
			return apperr.New(apperr.InvalidState, "only pending payments can be cancelled")
		}
		if err := p.Resolve(models.PaymentStatusCancelled, nowUTC()); err != nil {
			return transitionErr(err)
		}
		payment = p
		return storeErr(q.UpdatePayment(ctx, p), "payment")
	})
	if err != nil {
		return nil, err
	}
	s.resolved(ctx, payment)
	return &PaymentResult{Payment: payment, Message: "Payment cancelled"}, nil
}

// visible loads the payment's order and enforces read access.
func (s *PaymentService) visible(ctx context.Context, actor Actor, p *models.Payment) (*models.Payment, error) {
	o, err := s.store.GetOrder(ctx, p.OrderID)
	if err != nil {
		return nil, storeErr(err, "order")
	}
	if !actor.IsAdmin() && !actor.is(models.RoleClient, o.ClientID) && !actor.is(models.RoleProducer, o.ProducerID) {
		return nil, apperr.New(apperr.Unauthorized, "not allowed to view this payment")
	}
	return p, nil
}

func (s *PaymentService) Get(ctx context.Context, actor Actor, paymentID int64) (*models.Payment, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, storeErr(err, "payment")
	}
	return s.visible(ctx, actor, p)
}

func (s *PaymentService) GetByReference(ctx context.Context, actor Actor, reference string) (*models.Payment, error) {
	p, err := s.store.GetPaymentByReference(ctx, reference)
	if err != nil {
		return nil, storeErr(err, "payment")
	}
	return s.visible(ctx, actor, p)
}

// ListByOrder returns every attempt for an order, newest first.
func (s *PaymentService) ListByOrder(ctx context.Context, actor Actor, orderID int64) ([]models.Payment, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, "order")
	}
	if !actor.IsAdmin() && !actor.is(models.RoleClient, o.ClientID) && !actor.is(models.RoleProducer, o.ProducerID) {
		return nil, apperr.New(apperr.Unauthorized, "not allowed to view these payments")
	}
	payments, err := s.store.ListPaymentsByOrder(ctx, orderID)
	return payments, storeErr(err, "payments")
}

func (s *PaymentService) SimulationInfo() SimulationInfo {
	return SimulationInfo{
		Codes: map[string][]string{
			string(models.PaymentStatusSucceeded): {"1234", "SUCCESS", "OK"},
			string(models.PaymentStatusFailed):    {"0000", "FAILED", "ECHEC"},
			string(models.PaymentStatusExpired):   {"9999", "TIMEOUT"},
			string(models.PaymentStatusCancelled): {"CANCEL", "ANNULE"},
		},
		Note: "Any other code keeps the payment pending. simulation_mode takes precedence over code.",
	}
}
