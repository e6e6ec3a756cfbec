// Package recon реализует движок сверки выплат: классификацию выплат
// (обычная, аванс, переплата с переносом), пересчёт авансов при появлении
// новых смен и каскадный перенос переплат по следующим месяцам.
package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mstrokin/salary-ledger/internal/model"
	"github.com/mstrokin/salary-ledger/internal/month"
)

// Каскадный перенос ограничен, чтобы переплата, которую нечем погасить,
// не породила бесконечную цепочку месяцев.
const maxSweepIterations = 12

// ErrNonPositiveAmount возвращается при попытке создать выплату с
// неположительной суммой.
var ErrNonPositiveAmount = errors.New("payout amount must be positive")

// PayoutStore описывает контракт хранилища выплат, используемый движком.
// ListPayouts возвращает только неотменённые выплаты в порядке создания.
type PayoutStore interface {
	CreatePayout(ctx context.Context, p model.Payout) (model.Payout, error)
	UpsertCarryoverPayout(ctx context.Context, p model.Payout) (model.Payout, error)
	ListPayouts(ctx context.Context, userID int64, m month.Month) ([]model.Payout, error)
	SumPayoutAmountsForMonth(ctx context.Context, userID int64, m month.Month) (int64, error)
	SetAdvanceFlag(ctx context.Context, payoutID int64, isAdvance bool) error
}

// CarryoverStore описывает контракт журнала переносов.
type CarryoverStore interface {
	UpsertCarryover(ctx context.Context, c model.Carryover) error
	DeleteCarryover(ctx context.Context, userID int64, from, to month.Month) error
	SumCarryoversTo(ctx context.Context, userID int64, to month.Month) (int64, error)
}

// EarningsSource возвращает заработок пользователя за смены месяца.
type EarningsSource interface {
	MonthEarnings(ctx context.Context, userID int64, m month.Month) (int64, error)
}

// ClosurePolicy сообщает, закрыт ли месяц.
type ClosurePolicy interface {
	IsClosed(ctx context.Context, m month.Month) (bool, error)
}

// Engine выполняет сверку выплат поверх внедрённых хранилищ. Все суммы
// в копейках. Вызывающая сторона отвечает за транзакционность и
// сериализацию по пользователю.
//
// Ёмкость месяца считается по эффективному заработку: смены месяца плюс
// входящие переносы. Перенесённая в месяц переплата расширяет его ёмкость
// ровно на свою сумму, поэтому выплата-перенос сама по себе не порождает
// новый излишек.
type Engine struct {
	payouts    PayoutStore
	carryovers CarryoverStore
	earnings   EarningsSource
	closure    ClosurePolicy
	logger     *zap.Logger
}

// NewEngine создаёт движок сверки. При nil logger используется zap.NewNop.
func NewEngine(payouts PayoutStore, carryovers CarryoverStore, earnings EarningsSource, closure ClosurePolicy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		payouts:    payouts,
		carryovers: carryovers,
		earnings:   earnings,
		closure:    closure,
		logger:     logger,
	}
}

// CreateInput задаёт параметры создаваемой выплаты. Month — месяц
// атрибуции, он может отличаться от календарного месяца Date.
type CreateInput struct {
	UserID        int64
	Month         month.Month
	Amount        int64
	Date          time.Time
	Comment       string
	InitiatorRole model.Role
	Method        string
	Source        model.PayoutSource
}

// Result — итог классификации выплаты. Overpayment равен nil для обычной
// выплаты, нулю для аванса и положителен при переносе переплаты.
type Result struct {
	Payout      model.Payout
	Overpayment *int64
}

// CreatePayoutWithCorrection классифицирует и сохраняет выплату.
//
// Если сумма помещается в остаток заработка месяца — обычная выплата.
// Если не помещается и месяц ещё открыт — аванс на полную сумму.
// Если месяц закрыт — в месяце остаётся только помещающаяся часть,
// а излишек переносится выплатой-переносом в следующий месяц, где он
// классифицируется заново и может каскадировать дальше.
func (e *Engine) CreatePayoutWithCorrection(ctx context.Context, in CreateInput) (Result, error) {
	if in.Amount <= 0 {
		return Result{}, ErrNonPositiveAmount
	}
	if in.Source == "" {
		in.Source = model.SourceManual
	}

	monthlyEarnings, err := e.effectiveMonthEarnings(ctx, in.UserID, in.Month)
	if err != nil {
		return Result{}, err
	}

	alreadyPaid, err := e.payouts.SumPayoutAmountsForMonth(ctx, in.UserID, in.Month)
	if err != nil {
		return Result{}, fmt.Errorf("month payouts: %w", err)
	}

	// Остаток может быть отрицательным, если месяц уже переплачен.
	remaining := monthlyEarnings - alreadyPaid

	if in.Amount <= remaining {
		p, err := e.persistPayout(ctx, in, in.Amount, false)
		if err != nil {
			return Result{}, err
		}
		return Result{Payout: p}, nil
	}

	closed, err := e.closure.IsClosed(ctx, in.Month)
	if err != nil {
		return Result{}, fmt.Errorf("month closure: %w", err)
	}

	if !closed {
		// Открытый месяц ещё копит заработок: выплата целиком становится
		// авансом, даже поверх уже существующих авансов.
		p, err := e.persistPayout(ctx, in, in.Amount, true)
		if err != nil {
			return Result{}, err
		}
		zero := int64(0)
		return Result{Payout: p, Overpayment: &zero}, nil
	}

	actualAmount := remaining
	if actualAmount < 0 {
		actualAmount = 0
	}
	overpayment := in.Amount - actualAmount

	var p model.Payout
	if actualAmount > 0 {
		p, err = e.persistPayout(ctx, in, actualAmount, false)
		if err != nil {
			return Result{}, err
		}
	} else {
		// Весь запрос уходит в перенос, строка в этом месяце не создаётся.
		// Возвращаемая выплата — заглушка без идентификатора.
		p = model.Payout{
			UserID:        in.UserID,
			Month:         in.Month,
			Date:          in.Date,
			Comment:       in.Comment,
			InitiatorRole: in.InitiatorRole,
			Method:        in.Method,
			Source:        in.Source,
		}
	}

	if overpayment > 0 {
		if err := e.createCarryoverPayout(ctx, in.UserID, in.Month, in.Month.Next(), overpayment, in.Date); err != nil {
			return Result{}, err
		}
	}

	return Result{Payout: p, Overpayment: &overpayment}, nil
}

func (e *Engine) persistPayout(ctx context.Context, in CreateInput, amount int64, isAdvance bool) (model.Payout, error) {
	p, err := e.payouts.CreatePayout(ctx, model.Payout{
		UserID:        in.UserID,
		Month:         in.Month,
		Amount:        amount,
		Date:          in.Date,
		Comment:       in.Comment,
		IsAdvance:     isAdvance,
		InitiatorRole: in.InitiatorRole,
		Method:        in.Method,
		Source:        in.Source,
	})
	if err != nil {
		return model.Payout{}, fmt.Errorf("create payout: %w", err)
	}
	return p, nil
}

// effectiveMonthEarnings возвращает ёмкость месяца: заработок за смены
// плюс входящие переносы переплат.
func (e *Engine) effectiveMonthEarnings(ctx context.Context, userID int64, m month.Month) (int64, error) {
	earned, err := e.earnings.MonthEarnings(ctx, userID, m)
	if err != nil {
		return 0, fmt.Errorf("month earnings: %w", err)
	}
	carriedIn, err := e.carryovers.SumCarryoversTo(ctx, userID, m)
	if err != nil {
		return 0, fmt.Errorf("sum carryovers in: %w", err)
	}
	return earned + carriedIn, nil
}

// createCarryoverPayout фиксирует перенос переплаты: обновляет ребро в
// журнале переносов и обеспечивает выплату-перенос в целевом месяце.
// Повторный перенос той же тройки (пользователь, откуда, куда) заменяет
// сумму, а не накапливает её.
func (e *Engine) createCarryoverPayout(ctx context.Context, userID int64, from, to month.Month, amount int64, date time.Time) error {
	if err := e.carryovers.UpsertCarryover(ctx, model.Carryover{
		UserID:    userID,
		FromMonth: from,
		ToMonth:   to,
		Amount:    amount,
	}); err != nil {
		return fmt.Errorf("upsert carryover: %w", err)
	}

	comment := month.CarryoverComment(from)

	existing, err := e.findCarryoverPayout(ctx, userID, to, comment)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Amount == amount {
			return nil
		}
		existing.Amount = amount
		if _, err := e.payouts.UpsertCarryoverPayout(ctx, *existing); err != nil {
			return fmt.Errorf("replace carryover payout: %w", err)
		}
		return nil
	}

	// Свежий перенос классифицируется заново в целевом месяце: если и он
	// переплачен и закрыт, излишек каскадирует дальше.
	_, err = e.CreatePayoutWithCorrection(ctx, CreateInput{
		UserID:        userID,
		Month:         to,
		Amount:        amount,
		Date:          date,
		Comment:       comment,
		InitiatorRole: model.RoleSystem,
		Source:        model.SourceCarryover,
	})
	if err != nil {
		return fmt.Errorf("create carryover payout: %w", err)
	}
	return nil
}

func (e *Engine) findCarryoverPayout(ctx context.Context, userID int64, m month.Month, comment string) (*model.Payout, error) {
	payouts, err := e.payouts.ListPayouts(ctx, userID, m)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	for i := range payouts {
		p := payouts[i]
		if p.Source == model.SourceCarryover && p.Comment == comment && !p.Reversed() {
			return &p, nil
		}
	}
	return nil, nil
}

// RecalculateAdvancesForMonth погашает авансы месяца новым заработком.
// Авансы гасятся строго в порядке выдачи (по идентификатору); как только
// очередной аванс не помещается в заработок, пересчёт останавливается —
// более поздний аванс не гасится раньше непогашенного раннего. Обычные
// выплаты не затрагиваются. Повторный вызов без изменения данных ничего
// не меняет.
func (e *Engine) RecalculateAdvancesForMonth(ctx context.Context, userID int64, m month.Month) error {
	payouts, err := e.payouts.ListPayouts(ctx, userID, m)
	if err != nil {
		return fmt.Errorf("list payouts: %w", err)
	}

	monthEarnings, err := e.effectiveMonthEarnings(ctx, userID, m)
	if err != nil {
		return err
	}

	// Обычные выплаты уже заняли часть заработка.
	var runningPaid int64
	for _, p := range payouts {
		if !p.IsAdvance {
			runningPaid += p.Amount
		}
	}

	for _, p := range payouts {
		if !p.IsAdvance {
			continue
		}
		if runningPaid+p.Amount > monthEarnings {
			break
		}
		if err := e.payouts.SetAdvanceFlag(ctx, p.ID, false); err != nil {
			return fmt.Errorf("settle advance %d: %w", p.ID, err)
		}
		runningPaid += p.Amount
	}

	return nil
}

// CleanupCarryover удаляет ребро переноса из месяца m в следующий, если
// месяц больше не переплачен. Журнал переносов остаётся кэшем только
// действующих переносов.
func (e *Engine) CleanupCarryover(ctx context.Context, userID int64, m month.Month) error {
	paid, err := e.payouts.SumPayoutAmountsForMonth(ctx, userID, m)
	if err != nil {
		return fmt.Errorf("month payouts: %w", err)
	}
	earned, err := e.effectiveMonthEarnings(ctx, userID, m)
	if err != nil {
		return err
	}
	if paid > earned {
		return nil
	}
	if err := e.carryovers.DeleteCarryover(ctx, userID, m, m.Next()); err != nil {
		return fmt.Errorf("delete carryover: %w", err)
	}
	return nil
}

type pendingCarryover struct {
	from   month.Month
	to     month.Month
	amount int64
}

// ProcessOverpaymentCarryover проталкивает переплату месяца startMonth
// вперёд по следующим месяцам, пока она не будет погашена заработком.
//
// В каждый промежуточный месяц цепочки попадает выплата-перенос на полную
// текущую переплату, даже если она превышает заработок этого месяца;
// урезается только последний месяц цепочки. Отчётность опирается на такие
// «завышенные» промежуточные строки, поэтому поведение сохраняется как есть.
// После исчерпания лимита итераций остаток фиксируется предупреждением.
func (e *Engine) ProcessOverpaymentCarryover(ctx context.Context, userID int64, startMonth month.Month, payoutDate time.Time) error {
	paid, err := e.payouts.SumPayoutAmountsForMonth(ctx, userID, startMonth)
	if err != nil {
		return fmt.Errorf("month payouts: %w", err)
	}
	earned, err := e.effectiveMonthEarnings(ctx, userID, startMonth)
	if err != nil {
		return err
	}

	overpayment := paid - earned
	if overpayment <= 0 {
		return nil
	}

	var pending []pendingCarryover
	current := startMonth

	for i := 0; i < maxSweepIterations; i++ {
		next := current.Next()
		nextEarnings, err := e.effectiveMonthEarnings(ctx, userID, next)
		if err != nil {
			return err
		}

		pending = append(pending, pendingCarryover{
			from:   current,
			to:     next,
			amount: overpayment,
		})

		if nextEarnings >= overpayment {
			overpayment = 0
			break
		}

		overpayment -= nextEarnings
		current = next
	}

	for _, pc := range pending {
		if err := e.carryovers.UpsertCarryover(ctx, model.Carryover{
			UserID:    userID,
			FromMonth: pc.from,
			ToMonth:   pc.to,
			Amount:    pc.amount,
		}); err != nil {
			return fmt.Errorf("upsert carryover: %w", err)
		}

		if _, err := e.payouts.UpsertCarryoverPayout(ctx, model.Payout{
			UserID:        userID,
			Month:         pc.to,
			Amount:        pc.amount,
			Date:          payoutDate,
			Comment:       month.CarryoverComment(pc.from),
			InitiatorRole: model.RoleSystem,
			Source:        model.SourceCarryover,
		}); err != nil {
			return fmt.Errorf("upsert carryover payout: %w", err)
		}
	}

	if overpayment > 0 {
		e.logger.Warn("overpayment carryover hit iteration cap",
			zap.Int64("userID", userID),
			zap.String("startMonth", startMonth.String()),
			zap.Int64("residual", overpayment),
		)
	}

	return nil
}
