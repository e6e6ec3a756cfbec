package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mstrokin/salary-ledger/internal/month"
)

type stubShifts struct {
	total        int64
	totalErr     error
	betweenFrom  time.Time
	betweenTo    time.Time
	betweenSum   int64
	throughTo    time.Time
	throughSum   int64
}

func (s *stubShifts) SumShiftTotals(ctx context.Context, userID int64) (int64, error) {
	return s.total, s.totalErr
}

func (s *stubShifts) SumShiftTotalsBetween(ctx context.Context, userID int64, from, to time.Time) (int64, error) {
	s.betweenFrom = from
	s.betweenTo = to
	return s.betweenSum, nil
}

func (s *stubShifts) SumShiftTotalsThrough(ctx context.Context, userID int64, to time.Time) (int64, error) {
	s.throughTo = to
	return s.throughSum, nil
}

type stubPayouts struct {
	total    int64
	monthSum int64
}

func (s *stubPayouts) SumPayoutAmounts(ctx context.Context, userID int64) (int64, error) {
	return s.total, nil
}

func (s *stubPayouts) SumPayoutAmountsForMonth(ctx context.Context, userID int64, m month.Month) (int64, error) {
	return s.monthSum, nil
}

func TestMonthEarnings_UsesCalendarBounds(t *testing.T) {
	shifts := &stubShifts{betweenSum: 1000_00}
	l := NewLedger(shifts, &stubPayouts{})

	m := month.Month{Year: 2025, Mon: time.February}
	got, err := l.MonthEarnings(context.Background(), 1, m)
	if err != nil {
		t.Fatalf("MonthEarnings error: %v", err)
	}
	if got != 1000_00 {
		t.Fatalf("MonthEarnings = %d, want %d", got, 1000_00)
	}

	if shifts.betweenFrom.Day() != 1 || shifts.betweenFrom.Month() != time.February {
		t.Fatalf("from = %v, want first day of february", shifts.betweenFrom)
	}
	if shifts.betweenTo.Day() != 28 {
		t.Fatalf("to = %v, want last day of february", shifts.betweenTo)
	}
}

func TestCumulativeEarningsThrough(t *testing.T) {
	shifts := &stubShifts{throughSum: 500_00}
	l := NewLedger(shifts, &stubPayouts{})

	m := month.Month{Year: 2025, Mon: time.March}
	got, err := l.CumulativeEarningsThrough(context.Background(), 1, m)
	if err != nil {
		t.Fatalf("CumulativeEarningsThrough error: %v", err)
	}
	if got != 500_00 {
		t.Fatalf("got %d, want %d", got, 500_00)
	}
	if shifts.throughTo.Day() != 31 || shifts.throughTo.Month() != time.March {
		t.Fatalf("through = %v, want last day of march", shifts.throughTo)
	}
}

func TestGlobalBalance(t *testing.T) {
	l := NewLedger(&stubShifts{total: 10000_00}, &stubPayouts{total: 12000_00})

	got, err := l.GlobalBalance(context.Background(), 1)
	if err != nil {
		t.Fatalf("GlobalBalance error: %v", err)
	}
	if got != -2000_00 {
		t.Fatalf("GlobalBalance = %d, want %d", got, -2000_00)
	}
}

func TestGlobalBalance_PropagatesError(t *testing.T) {
	wantErr := errors.New("db down")
	l := NewLedger(&stubShifts{totalErr: wantErr}, &stubPayouts{})

	_, err := l.GlobalBalance(context.Background(), 1)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}
