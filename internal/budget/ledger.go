package budget

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Ledger enforces budget limits with a reservation pattern: reserve before
// work, then consume (actual spend) or release (abandon). Atomicity of the
// read-check-write sequence is delegated to Store.InTx.
type Ledger struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ledger{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Reserve earmarks amount against the tenant's active budget for executionID.
// Fails with ErrNoActiveBudget when no budget covers "now", and with
// ErrExceeded when a hard-limit budget has insufficient headroom. A soft-limit
// budget may be overdrawn, with a logged warning.
func (l *Ledger) Reserve(ctx context.Context, tenantID string, executionID uuid.UUID, amount float64) (*Handle, error) {
	var handle *Handle
	err := l.store.InTx(ctx, func(s Store) error {
		now := l.now()
		b, err := s.GetActiveBudget(ctx, tenantID, now)
		if err != nil {
			return err
		}

		available := b.AvailableUSD()
		if available < amount {
			if b.HardLimit {
				return fmt.Errorf("%w: cannot reserve $%.4f, available $%.4f for tenant %q",
					ErrExceeded, amount, available, tenantID)
			}
			l.logger.WarnContext(ctx, "soft budget limit exceeded",
				slog.String("tenant_id", tenantID),
				slog.Float64("amount", amount),
				slog.Float64("available", available),
				slog.Float64("limit", b.LimitUSD),
			)
		}

		r := &Reservation{
			ID:          uuid.New(),
			BudgetID:    b.ID,
			TenantID:    tenantID,
			ExecutionID: executionID,
			AmountUSD:   amount,
			Status:      ReservationReserved,
			CreatedAt:   now,
		}
		if err := s.CreateReservation(ctx, r); err != nil {
			return fmt.Errorf("creating reservation: %w", err)
		}

		b.ReservedUSD += amount
		b.UpdatedAt = now
		if err := s.UpdateBudget(ctx, b); err != nil {
			// Compensating delete; a failure here is only logged.
			if delErr := s.DeleteReservation(ctx, r.ID); delErr != nil {
				l.logger.ErrorContext(ctx, "compensating reservation delete failed",
					slog.String("reservation_id", r.ID.String()),
					slog.String("error", delErr.Error()),
				)
			}
			return fmt.Errorf("updating budget reserved: %w", err)
		}

		l.appendTx(ctx, s, &Transaction{
			ID:            uuid.New(),
			BudgetID:      b.ID,
			ReservationID: &r.ID,
			TenantID:      tenantID,
			ExecutionID:   &executionID,
			Type:          TxReserve,
			AmountUSD:     amount,
			CreatedAt:     now,
		})

		handle = &Handle{ReservationID: r.ID, BudgetID: b.ID, AmountUSD: amount}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "budget reserved",
		slog.String("tenant_id", tenantID),
		slog.String("execution_id", executionID.String()),
		slog.String("reservation_id", handle.ReservationID.String()),
		slog.Float64("amount", amount),
	)
	return handle, nil
}

// Consume converts a reservation into actual spend. The reservation's full
// original amount leaves `reserved` (clamped at zero); actualAmount enters
// `used`. Fails with ErrReservationInvalid if the reservation is missing or
// already terminal.
func (l *Ledger) Consume(ctx context.Context, reservationID uuid.UUID, actualAmount float64) error {
	err := l.store.InTx(ctx, func(s Store) error {
		r, err := s.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.Status != ReservationReserved {
			return fmt.Errorf("%w: reservation %s is %s", ErrReservationInvalid, r.ID, r.Status)
		}

		now := l.now()
		r.Status = ReservationConsumed
		r.ActualAmountUSD = &actualAmount
		r.ConsumedAt = &now
		if err := s.UpdateReservation(ctx, r); err != nil {
			return fmt.Errorf("marking reservation consumed: %w", err)
		}

		b, err := s.GetBudget(ctx, r.BudgetID)
		if err != nil {
			return err
		}
		b.ReservedUSD -= r.AmountUSD
		if b.ReservedUSD < 0 {
			b.ReservedUSD = 0
		}
		b.UsedUSD += actualAmount
		b.UpdatedAt = now
		if err := s.UpdateBudget(ctx, b); err != nil {
			return fmt.Errorf("updating budget used: %w", err)
		}

		l.appendTx(ctx, s, &Transaction{
			ID:            uuid.New(),
			BudgetID:      b.ID,
			ReservationID: &r.ID,
			TenantID:      r.TenantID,
			ExecutionID:   &r.ExecutionID,
			Type:          TxConsume,
			AmountUSD:     actualAmount,
			CreatedAt:     now,
		})
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "budget consumed",
		slog.String("reservation_id", reservationID.String()),
		slog.Float64("actual_amount", actualAmount),
	)
	return nil
}

// Release frees every still-reserved reservation tied to executionID.
// Always safe to call: a no-op when none remain, including after consume.
func (l *Ledger) Release(ctx context.Context, executionID uuid.UUID) error {
	var released int
	err := l.store.InTx(ctx, func(s Store) error {
		active, err := s.ListActiveReservations(ctx, executionID)
		if err != nil {
			return fmt.Errorf("listing reservations: %w", err)
		}

		now := l.now()
		for i := range active {
			r := &active[i]
			r.Status = ReservationReleased
			r.ReleasedAt = &now
			if err := s.UpdateReservation(ctx, r); err != nil {
				return fmt.Errorf("marking reservation released: %w", err)
			}

			b, err := s.GetBudget(ctx, r.BudgetID)
			if err != nil {
				return err
			}
			b.ReservedUSD -= r.AmountUSD
			if b.ReservedUSD < 0 {
				b.ReservedUSD = 0
			}
			b.UpdatedAt = now
			if err := s.UpdateBudget(ctx, b); err != nil {
				return fmt.Errorf("updating budget reserved: %w", err)
			}

			l.appendTx(ctx, s, &Transaction{
				ID:            uuid.New(),
				BudgetID:      b.ID,
				ReservationID: &r.ID,
				TenantID:      r.TenantID,
				ExecutionID:   &executionID,
				Type:          TxRelease,
				AmountUSD:     -r.AmountUSD,
				CreatedAt:     now,
			})
			released++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if released > 0 {
		l.logger.InfoContext(ctx, "budget released",
			slog.String("execution_id", executionID.String()),
			slog.Int("reservations", released),
		)
	}
	return nil
}

// GetStatus returns a read-only projection of the tenant's active budget.
func (l *Ledger) GetStatus(ctx context.Context, tenantID string) (*Status, error) {
	b, err := l.store.GetActiveBudget(ctx, tenantID, l.now())
	if err != nil {
		return nil, err
	}

	utilization := 0.0
	if b.LimitUSD > 0 {
		utilization = (b.UsedUSD + b.ReservedUSD) / b.LimitUSD
	}
	return &Status{
		BudgetID:        b.ID,
		TenantID:        b.TenantID,
		LimitUSD:        b.LimitUSD,
		UsedUSD:         b.UsedUSD,
		ReservedUSD:     b.ReservedUSD,
		AvailableUSD:    b.AvailableUSD(),
		UtilizationRate: utilization,
		HardLimit:       b.HardLimit,
		PeriodStart:     b.PeriodStart,
		PeriodEnd:       b.PeriodEnd,
	}, nil
}

// ListTransactions returns the ledger rows of the tenant's active budget,
// oldest first. Reconstruction data for auditors; counters on the budget row
// remain the source of truth.
func (l *Ledger) ListTransactions(ctx context.Context, tenantID string) ([]Transaction, error) {
	b, err := l.store.GetActiveBudget(ctx, tenantID, l.now())
	if err != nil {
		return nil, err
	}
	return l.store.ListTransactions(ctx, b.ID)
}

// appendTx writes a ledger row. The ledger is reconstruction data, not the
// source of truth for counters, so a failed append degrades to a warning.
func (l *Ledger) appendTx(ctx context.Context, s Store, tx *Transaction) {
	if err := s.AppendTransaction(ctx, tx); err != nil {
		l.logger.WarnContext(ctx, "budget transaction append failed",
			slog.String("budget_id", tx.BudgetID.String()),
			slog.String("type", string(tx.Type)),
			slog.String("error", err.Error()),
		)
	}
}
