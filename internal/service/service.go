// Package service реализует бизнес-логику сервиса учёта зарплат.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mstrokin/salary-ledger/internal/ledger"
	"github.com/mstrokin/salary-ledger/internal/model"
	"github.com/mstrokin/salary-ledger/internal/month"
	"github.com/mstrokin/salary-ledger/internal/recon"
	"github.com/mstrokin/salary-ledger/internal/report"
	"github.com/mstrokin/salary-ledger/internal/repository"
	"github.com/mstrokin/salary-ledger/internal/validation"
)

// ErrInvalidAmount возвращается при неположительной сумме.
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrMonthClosed возвращается при попытке мастера изменить закрытый месяц.
	ErrMonthClosed = errors.New("month is closed")
	// ErrInvalidCredentials возвращается при неверном логине или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	repository.Stores
	Close() error
	WithUserLock(ctx context.Context, userID int64, fn func(ctx context.Context, s repository.Stores) error) error
}

// Service содержит бизнес-логику сервиса учёта зарплат. Все операции
// сверки выполняются внутри транзакции с блокировкой строки пользователя.
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с указанной ролью.
func (s *Service) RegisterUser(ctx context.Context, login, password string, role model.Role) (int64, error) {
	if role == "" {
		role = model.RoleMaster
	}
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, role)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Service) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// ShiftInput задаёт параметры создаваемой смены. Total в рублях.
type ShiftInput struct {
	UserID    int64
	Date      time.Time
	Total     float64
	Initiator model.Role
}

// PayoutInput задаёт параметры создаваемой выплаты. Amount в рублях,
// Month — месяц атрибуции.
type PayoutInput struct {
	UserID    int64
	Month     month.Month
	Amount    float64
	Date      time.Time
	Comment   string
	Method    string
	Initiator model.Role
}

// PayoutResult — итог создания выплаты. Overpayment в рублях: nil для
// обычной выплаты, ноль для аванса, больше нуля при переносе переплаты.
type PayoutResult struct {
	Payout      model.Payout
	Overpayment *float64
}

// CreateShift создаёт смену и пересчитывает авансы её месяца: новый
// заработок может погасить ранее выданные авансы и снять перенос.
func (s *Service) CreateShift(ctx context.Context, in ShiftInput) (model.Shift, error) {
	if !validation.IsValidAmount(in.Total) {
		return model.Shift{}, ErrInvalidAmount
	}

	m := month.Of(in.Date)
	var created model.Shift

	err := s.repo.WithUserLock(ctx, in.UserID, func(ctx context.Context, st repository.Stores) error {
		if err := s.ensureMonthOpenFor(ctx, st, m, in.Initiator); err != nil {
			return err
		}

		sh, err := st.CreateShift(ctx, model.Shift{
			UserID: in.UserID,
			Date:   in.Date,
			Total:  toKopecks(in.Total),
		})
		if err != nil {
			return err
		}
		created = sh

		return s.reconcileMonth(ctx, st, in.UserID, m)
	})
	if err != nil {
		return model.Shift{}, err
	}

	return created, nil
}

// DeleteShift удаляет смену пользователя и пересчитывает её месяц.
func (s *Service) DeleteShift(ctx context.Context, userID, shiftID int64, initiator model.Role) error {
	return s.repo.WithUserLock(ctx, userID, func(ctx context.Context, st repository.Stores) error {
		sh, err := st.GetShift(ctx, shiftID)
		if err != nil {
			return err
		}
		if sh.UserID != userID {
			return repository.ErrShiftNotFound
		}

		m := month.Of(sh.Date)
		if err := s.ensureMonthOpenFor(ctx, st, m, initiator); err != nil {
			return err
		}

		if err := st.DeleteShift(ctx, shiftID); err != nil {
			return err
		}

		return s.reconcileMonth(ctx, st, userID, m)
	})
}

// ListShifts возвращает смены пользователя за месяц.
func (s *Service) ListShifts(ctx context.Context, userID int64, m month.Month) ([]model.Shift, error) {
	return s.repo.ListShifts(ctx, userID, m)
}

// CreatePayout создаёт выплату через движок сверки: она будет
// классифицирована как обычная, аванс или переплата с переносом.
func (s *Service) CreatePayout(ctx context.Context, in PayoutInput) (PayoutResult, error) {
	if !validation.IsValidAmount(in.Amount) {
		return PayoutResult{}, ErrInvalidAmount
	}

	var res recon.Result
	err := s.repo.WithUserLock(ctx, in.UserID, func(ctx context.Context, st repository.Stores) error {
		if err := s.ensureMonthOpenFor(ctx, st, in.Month, in.Initiator); err != nil {
			return err
		}

		r, err := s.engine(st).CreatePayoutWithCorrection(ctx, recon.CreateInput{
			UserID:        in.UserID,
			Month:         in.Month,
			Amount:        toKopecks(in.Amount),
			Date:          in.Date,
			Comment:       in.Comment,
			InitiatorRole: in.Initiator,
			Method:        in.Method,
			Source:        model.SourceManual,
		})
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return PayoutResult{}, err
	}

	out := PayoutResult{Payout: res.Payout}
	if res.Overpayment != nil {
		v := fromKopecks(*res.Overpayment)
		out.Overpayment = &v
	}
	return out, nil
}

// ReversePayout отменяет выплату и пересчитывает её месяц. Выплата
// сохраняется в истории с отметкой об отмене.
func (s *Service) ReversePayout(ctx context.Context, userID, payoutID int64, reason string, initiator model.Role) error {
	return s.repo.WithUserLock(ctx, userID, func(ctx context.Context, st repository.Stores) error {
		p, err := st.GetPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		if p.UserID != userID {
			return repository.ErrPayoutNotFound
		}

		if err := s.ensureMonthOpenFor(ctx, st, p.Month, initiator); err != nil {
			return err
		}

		if err := st.ReversePayout(ctx, payoutID, reason, s.now()); err != nil {
			return err
		}

		return s.reconcileMonth(ctx, st, userID, p.Month)
	})
}

// ListPayouts возвращает неотменённые выплаты пользователя за месяц.
func (s *Service) ListPayouts(ctx context.Context, userID int64, m month.Month) ([]model.Payout, error) {
	return s.repo.ListPayouts(ctx, userID, m)
}

// RecalculateMonth пересчитывает авансы и переносы месяца вручную.
func (s *Service) RecalculateMonth(ctx context.Context, userID int64, m month.Month) error {
	return s.repo.WithUserLock(ctx, userID, func(ctx context.Context, st repository.Stores) error {
		return s.reconcileMonth(ctx, st, userID, m)
	})
}

// SweepOverpayment проталкивает переплату месяца вперёд по следующим
// месяцам. Вся цепочка выполняется под одной блокировкой пользователя.
func (s *Service) SweepOverpayment(ctx context.Context, userID int64, m month.Month, date time.Time) error {
	return s.repo.WithUserLock(ctx, userID, func(ctx context.Context, st repository.Stores) error {
		return s.engine(st).ProcessOverpaymentCarryover(ctx, userID, m, date)
	})
}

// SetMonthClosed выставляет ручной статус месяца.
func (s *Service) SetMonthClosed(ctx context.Context, m month.Month, closed bool) error {
	return s.repo.SetClosed(ctx, m, closed)
}

// GetBalance возвращает итоговый баланс пользователя в рублях.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	led := ledger.NewLedger(s.repo, s.repo)

	earned, err := led.TotalEarnings(ctx, userID)
	if err != nil {
		return nil, err
	}
	paid, err := led.TotalPayouts(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &model.Balance{
		Earned:  fromKopecks(earned),
		Paid:    fromKopecks(paid),
		Current: fromKopecks(earned - paid),
	}, nil
}

// MonthSummary возвращает помесячную сводку пользователя.
func (s *Service) MonthSummary(ctx context.Context, userID int64, m month.Month) (*model.MonthSummary, error) {
	return s.reportBuilder().MonthSummary(ctx, userID, m)
}

// YearReportXLSX строит годовой отчёт пользователя в формате XLSX.
func (s *Service) YearReportXLSX(ctx context.Context, userID int64, year int) ([]byte, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries, err := s.reportBuilder().YearSummaries(ctx, userID, year)
	if err != nil {
		return nil, err
	}

	f, err := report.WriteXLSX(u.Login, year, summaries)
	if err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// engine собирает движок сверки поверх хранилищ текущей транзакции.
func (s *Service) engine(st repository.Stores) *recon.Engine {
	led := ledger.NewLedger(st, st)
	pol := ledger.NewClosurePolicy(st, s.now)
	return recon.NewEngine(st, st, led, pol, s.logger)
}

func (s *Service) reportBuilder() *report.Builder {
	led := ledger.NewLedger(s.repo, s.repo)
	pol := ledger.NewClosurePolicy(s.repo, s.now)
	return report.NewBuilder(led, pol, s.repo)
}

// reconcileMonth пересчитывает авансы месяца и снимает неактуальный перенос.
func (s *Service) reconcileMonth(ctx context.Context, st repository.Stores, userID int64, m month.Month) error {
	eng := s.engine(st)
	if err := eng.RecalculateAdvancesForMonth(ctx, userID, m); err != nil {
		return err
	}
	return eng.CleanupCarryover(ctx, userID, m)
}

// ensureMonthOpenFor запрещает мастеру менять закрытый месяц. Админ и
// система проходят: исправления закрытых месяцев — их штатный сценарий,
// движок сам раскладывает излишки по переносам.
func (s *Service) ensureMonthOpenFor(ctx context.Context, st repository.Stores, m month.Month, initiator model.Role) error {
	if initiator == model.RoleAdmin || initiator == model.RoleSystem {
		return nil
	}

	closed, err := ledger.NewClosurePolicy(st, s.now).IsClosed(ctx, m)
	if err != nil {
		return err
	}
	if closed {
		return ErrMonthClosed
	}
	return nil
}

func toKopecks(rub float64) int64 {
	return int64(math.Round(rub * 100))
}

func fromKopecks(kopecks int64) float64 {
	return float64(kopecks) / 100
}
