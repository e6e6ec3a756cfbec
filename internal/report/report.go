// Package report собирает помесячные сводки по мастерам для отображения
// и выгрузки.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mstrokin/salary-ledger/internal/ledger"
	"github.com/mstrokin/salary-ledger/internal/model"
	"github.com/mstrokin/salary-ledger/internal/month"
)

// CarryoverLister описывает доступ к журналу переносов.
type CarryoverLister interface {
	ListCarryoversByTo(ctx context.Context, userID int64, to month.Month) ([]model.Carryover, error)
	ListCarryoversByFrom(ctx context.Context, userID int64, from month.Month) ([]model.Carryover, error)
}

// ClosedChecker сообщает, закрыт ли месяц.
type ClosedChecker interface {
	IsClosed(ctx context.Context, m month.Month) (bool, error)
}

// Builder строит сводки поверх запросов гроссбуха и журнала переносов.
type Builder struct {
	ledger     *ledger.Ledger
	closure    ClosedChecker
	carryovers CarryoverLister
}

// NewBuilder создаёт построитель сводок.
func NewBuilder(l *ledger.Ledger, closure ClosedChecker, carryovers CarryoverLister) *Builder {
	return &Builder{
		ledger:     l,
		closure:    closure,
		carryovers: carryovers,
	}
}

// MonthSummary собирает сводку пользователя за месяц. Остаток и прогресс
// считаются от ёмкости месяца: заработок плюс входящие переносы.
func (b *Builder) MonthSummary(ctx context.Context, userID int64, m month.Month) (*model.MonthSummary, error) {
	earned, err := b.ledger.MonthEarnings(ctx, userID, m)
	if err != nil {
		return nil, err
	}
	paid, err := b.ledger.MonthPayouts(ctx, userID, m)
	if err != nil {
		return nil, err
	}

	in, err := b.carryovers.ListCarryoversByTo(ctx, userID, m)
	if err != nil {
		return nil, fmt.Errorf("list carryovers in: %w", err)
	}
	out, err := b.carryovers.ListCarryoversByFrom(ctx, userID, m)
	if err != nil {
		return nil, fmt.Errorf("list carryovers out: %w", err)
	}

	var carriedIn, carriedOut int64
	for _, c := range in {
		carriedIn += c.Amount
	}
	for _, c := range out {
		carriedOut += c.Amount
	}

	closed, err := b.closure.IsClosed(ctx, m)
	if err != nil {
		return nil, err
	}

	capacity := earned + carriedIn
	var progress float64
	if capacity > 0 {
		progress = float64(paid) / float64(capacity)
	}

	return &model.MonthSummary{
		Month:      m,
		Earned:     earned,
		Paid:       paid,
		Remaining:  capacity - paid,
		Progress:   progress,
		Closed:     closed,
		CarriedIn:  carriedIn,
		CarriedOut: carriedOut,
	}, nil
}

// YearSummaries собирает сводки за все месяцы года.
func (b *Builder) YearSummaries(ctx context.Context, userID int64, year int) ([]model.MonthSummary, error) {
	res := make([]model.MonthSummary, 0, 12)
	for mon := time.January; mon <= time.December; mon++ {
		s, err := b.MonthSummary(ctx, userID, month.Month{Year: year, Mon: mon})
		if err != nil {
			return nil, err
		}
		res = append(res, *s)
	}
	return res, nil
}

var xlsxHeaders = []string{
	"Месяц", "Заработано", "Выплачено", "Остаток", "Прогресс", "Статус", "Перенос в месяц", "Перенос из месяца",
}

// WriteXLSX выгружает сводки в книгу Excel. Суммы в рублях.
func WriteXLSX(login string, year int, summaries []model.MonthSummary) (*excelize.File, error) {
	f := excelize.NewFile()

	sheet := fmt.Sprintf("%s %d", login, year)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range xlsxHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	for rowIdx, s := range summaries {
		status := "открыт"
		if s.Closed {
			status = "закрыт"
		}

		values := []any{
			s.Month.String(),
			rubles(s.Earned),
			rubles(s.Paid),
			rubles(s.Remaining),
			s.Progress,
			status,
			rubles(s.CarriedIn),
			rubles(s.CarriedOut),
		}

		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return nil, fmt.Errorf("data cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("write cell: %w", err)
			}
		}
	}

	return f, nil
}

func rubles(kopecks int64) float64 {
	return float64(kopecks) / 100
}
