package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/mstrokin/salary-ledger/internal/month"
)

// StatusStore описывает контракт хранилища ручных статусов месяцев.
// found=false означает отсутствие записи (месяц открыт по умолчанию).
type StatusStore interface {
	GetClosed(ctx context.Context, m month.Month) (closed bool, found bool, err error)
}

// ClosurePolicy определяет, закрыт ли месяц: либо он закрыт вручную
// администратором, либо его последний календарный день уже в прошлом.
type ClosurePolicy struct {
	statuses StatusStore
	now      func() time.Time
}

// NewClosurePolicy создаёт политику закрытия месяца. При nil now
// используется time.Now.
func NewClosurePolicy(statuses StatusStore, now func() time.Time) *ClosurePolicy {
	if now == nil {
		now = time.Now
	}
	return &ClosurePolicy{
		statuses: statuses,
		now:      now,
	}
}

// IsClosed сообщает, закрыт ли месяц m. Явный флаг closed=true имеет
// приоритет; явная запись closed=false не отменяет календарного закрытия.
func (p *ClosurePolicy) IsClosed(ctx context.Context, m month.Month) (bool, error) {
	closed, found, err := p.statuses.GetClosed(ctx, m)
	if err != nil {
		return false, fmt.Errorf("get month status: %w", err)
	}
	if found && closed {
		return true, nil
	}

	today := dateOnly(p.now())
	return today.After(dateOnly(m.End())), nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
}
