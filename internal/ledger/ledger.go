// Package ledger реализует читающие запросы по сменам и выплатам,
// а также политику закрытия месяца.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/mstrokin/salary-ledger/internal/month"
)

// ShiftSummer описывает контракт хранилища смен, используемый запросами.
type ShiftSummer interface {
	SumShiftTotals(ctx context.Context, userID int64) (int64, error)
	SumShiftTotalsBetween(ctx context.Context, userID int64, from, to time.Time) (int64, error)
	SumShiftTotalsThrough(ctx context.Context, userID int64, to time.Time) (int64, error)
}

// PayoutSummer описывает контракт хранилища выплат, используемый запросами.
// Суммы считаются только по неотменённым выплатам.
type PayoutSummer interface {
	SumPayoutAmounts(ctx context.Context, userID int64) (int64, error)
	SumPayoutAmountsForMonth(ctx context.Context, userID int64, m month.Month) (int64, error)
}

// Ledger агрегирует заработок и выплаты пользователя. Запросы без
// побочных эффектов, каждый вызов читает актуальное состояние хранилища.
type Ledger struct {
	shifts  ShiftSummer
	payouts PayoutSummer
}

// NewLedger создаёт набор запросов над указанными хранилищами.
func NewLedger(shifts ShiftSummer, payouts PayoutSummer) *Ledger {
	return &Ledger{
		shifts:  shifts,
		payouts: payouts,
	}
}

// TotalEarnings возвращает суммарный заработок пользователя за всё время.
func (l *Ledger) TotalEarnings(ctx context.Context, userID int64) (int64, error) {
	total, err := l.shifts.SumShiftTotals(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("sum shift totals: %w", err)
	}
	return total, nil
}

// TotalPayouts возвращает сумму всех неотменённых выплат пользователя.
func (l *Ledger) TotalPayouts(ctx context.Context, userID int64) (int64, error) {
	total, err := l.payouts.SumPayoutAmounts(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("sum payout amounts: %w", err)
	}
	return total, nil
}

// MonthEarnings возвращает заработок за смены, даты которых попадают в месяц m.
func (l *Ledger) MonthEarnings(ctx context.Context, userID int64, m month.Month) (int64, error) {
	total, err := l.shifts.SumShiftTotalsBetween(ctx, userID, m.Start(), m.End())
	if err != nil {
		return 0, fmt.Errorf("sum month shift totals: %w", err)
	}
	return total, nil
}

// MonthPayouts возвращает сумму неотменённых выплат, атрибутированных месяцу m.
// Учитывается месяц атрибуции выплаты, а не календарный месяц её даты.
func (l *Ledger) MonthPayouts(ctx context.Context, userID int64, m month.Month) (int64, error) {
	total, err := l.payouts.SumPayoutAmountsForMonth(ctx, userID, m)
	if err != nil {
		return 0, fmt.Errorf("sum month payout amounts: %w", err)
	}
	return total, nil
}

// CumulativeEarningsThrough возвращает заработок за все смены с датой
// не позднее последнего календарного дня месяца m.
func (l *Ledger) CumulativeEarningsThrough(ctx context.Context, userID int64, m month.Month) (int64, error) {
	total, err := l.shifts.SumShiftTotalsThrough(ctx, userID, m.End())
	if err != nil {
		return 0, fmt.Errorf("sum cumulative shift totals: %w", err)
	}
	return total, nil
}

// GlobalBalance возвращает разницу между заработанным и выплаченным.
// Положительное значение — долг бизнеса перед мастером, отрицательное —
// мастер авансирован сверх заработанного.
func (l *Ledger) GlobalBalance(ctx context.Context, userID int64) (int64, error) {
	earned, err := l.TotalEarnings(ctx, userID)
	if err != nil {
		return 0, err
	}
	paid, err := l.TotalPayouts(ctx, userID)
	if err != nil {
		return 0, err
	}
	return earned - paid, nil
}
