package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mstrokin/salary-ledger/internal/model"
	"github.com/mstrokin/salary-ledger/internal/month"
	"github.com/mstrokin/salary-ledger/internal/repository"
)

// fakeRepo — репозиторий в памяти, реализующий полный контракт Stores.
type fakeRepo struct {
	nextUserID   int64
	nextShiftID  int64
	nextPayoutID int64

	users      map[int64]*model.User
	shifts     []model.Shift
	payouts    []model.Payout
	carryovers map[string]model.Carryover
	statuses   map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:      make(map[int64]*model.User),
		carryovers: make(map[string]model.Carryover),
		statuses:   make(map[string]bool),
	}
}

func (f *fakeRepo) Close() error { return nil }

func (f *fakeRepo) WithUserLock(ctx context.Context, userID int64, fn func(context.Context, repository.Stores) error) error {
	if _, ok := f.users[userID]; !ok {
		return repository.ErrUserNotFound
	}
	return fn(ctx, f)
}

func (f *fakeRepo) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	for _, u := range f.users {
		if u.Login == login {
			return 0, repository.ErrUserExists
		}
	}
	f.nextUserID++
	f.users[f.nextUserID] = &model.User{
		ID:           f.nextUserID,
		Login:        login,
		PasswordHash: passwordHash,
		Role:         role,
	}
	return f.nextUserID, nil
}

func (f *fakeRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	for _, u := range f.users {
		if u.Login == login {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeRepo) CreateShift(ctx context.Context, sh model.Shift) (model.Shift, error) {
	f.nextShiftID++
	sh.ID = f.nextShiftID
	f.shifts = append(f.shifts, sh)
	return sh, nil
}

func (f *fakeRepo) GetShift(ctx context.Context, id int64) (*model.Shift, error) {
	for i := range f.shifts {
		if f.shifts[i].ID == id {
			sh := f.shifts[i]
			return &sh, nil
		}
	}
	return nil, repository.ErrShiftNotFound
}

func (f *fakeRepo) DeleteShift(ctx context.Context, id int64) error {
	for i := range f.shifts {
		if f.shifts[i].ID == id {
			f.shifts = append(f.shifts[:i], f.shifts[i+1:]...)
			return nil
		}
	}
	return repository.ErrShiftNotFound
}

func (f *fakeRepo) ListShifts(ctx context.Context, userID int64, m month.Month) ([]model.Shift, error) {
	var res []model.Shift
	for _, sh := range f.shifts {
		if sh.UserID == userID && m.Contains(sh.Date) {
			res = append(res, sh)
		}
	}
	return res, nil
}

func (f *fakeRepo) SumShiftTotals(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	for _, sh := range f.shifts {
		if sh.UserID == userID {
			sum += sh.Total
		}
	}
	return sum, nil
}

func (f *fakeRepo) SumShiftTotalsBetween(ctx context.Context, userID int64, from, to time.Time) (int64, error) {
	var sum int64
	for _, sh := range f.shifts {
		if sh.UserID == userID && !sh.Date.Before(from) && !sh.Date.After(to) {
			sum += sh.Total
		}
	}
	return sum, nil
}

func (f *fakeRepo) SumShiftTotalsThrough(ctx context.Context, userID int64, to time.Time) (int64, error) {
	var sum int64
	for _, sh := range f.shifts {
		if sh.UserID == userID && !sh.Date.After(to) {
			sum += sh.Total
		}
	}
	return sum, nil
}

func (f *fakeRepo) CreatePayout(ctx context.Context, p model.Payout) (model.Payout, error) {
	f.nextPayoutID++
	p.ID = f.nextPayoutID
	f.payouts = append(f.payouts, p)
	return p, nil
}

func (f *fakeRepo) UpsertCarryoverPayout(ctx context.Context, p model.Payout) (model.Payout, error) {
	for i := range f.payouts {
		q := &f.payouts[i]
		if q.UserID == p.UserID && q.Month == p.Month && q.Source == model.SourceCarryover &&
			q.Comment == p.Comment && !q.Reversed() {
			q.Amount = p.Amount
			q.Date = p.Date
			return *q, nil
		}
	}
	return f.CreatePayout(ctx, p)
}

func (f *fakeRepo) GetPayout(ctx context.Context, id int64) (*model.Payout, error) {
	for i := range f.payouts {
		if f.payouts[i].ID == id {
			p := f.payouts[i]
			return &p, nil
		}
	}
	return nil, repository.ErrPayoutNotFound
}

func (f *fakeRepo) ListPayouts(ctx context.Context, userID int64, m month.Month) ([]model.Payout, error) {
	var res []model.Payout
	for _, p := range f.payouts {
		if p.UserID == userID && p.Month == m && !p.Reversed() {
			res = append(res, p)
		}
	}
	return res, nil
}

func (f *fakeRepo) SumPayoutAmounts(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	for _, p := range f.payouts {
		if p.UserID == userID && !p.Reversed() {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (f *fakeRepo) SumPayoutAmountsForMonth(ctx context.Context, userID int64, m month.Month) (int64, error) {
	var sum int64
	for _, p := range f.payouts {
		if p.UserID == userID && p.Month == m && !p.Reversed() {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (f *fakeRepo) SetAdvanceFlag(ctx context.Context, payoutID int64, isAdvance bool) error {
	for i := range f.payouts {
		if f.payouts[i].ID == payoutID {
			f.payouts[i].IsAdvance = isAdvance
			return nil
		}
	}
	return repository.ErrPayoutNotFound
}

func (f *fakeRepo) ReversePayout(ctx context.Context, payoutID int64, reason string, at time.Time) error {
	for i := range f.payouts {
		if f.payouts[i].ID == payoutID {
			if f.payouts[i].Reversed() {
				return repository.ErrPayoutReversed
			}
			f.payouts[i].ReversedAt = &at
			f.payouts[i].ReversalReason = reason
			return nil
		}
	}
	return repository.ErrPayoutNotFound
}

func (f *fakeRepo) GetClosed(ctx context.Context, m month.Month) (bool, bool, error) {
	closed, found := f.statuses[m.String()]
	return closed, found, nil
}

func (f *fakeRepo) SetClosed(ctx context.Context, m month.Month, closed bool) error {
	f.statuses[m.String()] = closed
	return nil
}

func carryoverKey(userID int64, from, to month.Month) string {
	return fmt.Sprintf("%d|%s|%s", userID, from, to)
}

func (f *fakeRepo) UpsertCarryover(ctx context.Context, c model.Carryover) error {
	f.carryovers[carryoverKey(c.UserID, c.FromMonth, c.ToMonth)] = c
	return nil
}

func (f *fakeRepo) DeleteCarryover(ctx context.Context, userID int64, from, to month.Month) error {
	delete(f.carryovers, carryoverKey(userID, from, to))
	return nil
}

func (f *fakeRepo) SumCarryoversTo(ctx context.Context, userID int64, to month.Month) (int64, error) {
	var sum int64
	for _, c := range f.carryovers {
		if c.UserID == userID && c.ToMonth == to {
			sum += c.Amount
		}
	}
	return sum, nil
}

func (f *fakeRepo) ListCarryoversByTo(ctx context.Context, userID int64, to month.Month) ([]model.Carryover, error) {
	var res []model.Carryover
	for _, c := range f.carryovers {
		if c.UserID == userID && c.ToMonth == to {
			res = append(res, c)
		}
	}
	return res, nil
}

func (f *fakeRepo) ListCarryoversByFrom(ctx context.Context, userID int64, from month.Month) ([]model.Carryover, error) {
	var res []model.Carryover
	for _, c := range f.carryovers {
		if c.UserID == userID && c.FromMonth == from {
			res = append(res, c)
		}
	}
	return res, nil
}

func newTestService(repo *fakeRepo, now time.Time) *Service {
	svc := NewService(repo, nil)
	svc.now = func() time.Time { return now }
	return svc
}

func mustUser(t *testing.T, repo *fakeRepo, login string, role model.Role) int64 {
	t.Helper()
	id, err := repo.CreateUser(context.Background(), login, hashPassword(login, "pass"), role)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	repo := newFakeRepo()
	mustUser(t, repo, "master1", model.RoleMaster)
	svc := newTestService(repo, time.Date(2025, time.January, 10, 0, 0, 0, 0, time.Local))

	_, err := svc.AuthenticateUser(context.Background(), "master1", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCreateShift_RejectsNonPositiveTotal(t *testing.T) {
	repo := newFakeRepo()
	userID := mustUser(t, repo, "master1", model.RoleMaster)
	svc := newTestService(repo, time.Date(2025, time.January, 10, 0, 0, 0, 0, time.Local))

	_, err := svc.CreateShift(context.Background(), ShiftInput{
		UserID:    userID,
		Date:      time.Date(2025, time.January, 5, 0, 0, 0, 0, time.Local),
		Total:     0,
		Initiator: model.RoleAdmin,
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreateShift_MasterRejectedInClosedMonth(t *testing.T) {
	repo := newFakeRepo()
	userID := mustUser(t, repo, "master1", model.RoleMaster)
	repo.statuses["2025-01"] = true

	svc := newTestService(repo, time.Date(2025, time.January, 20, 0, 0, 0, 0, time.Local))

	in := ShiftInput{
		UserID: userID,
		Date:   time.Date(2025, time.January, 5, 0, 0, 0, 0, time.Local),
		Total:  1500,
	}

	in.Initiator = model.RoleMaster
	_, err := svc.CreateShift(context.Background(), in)
	if !errors.Is(err, ErrMonthClosed) {
		t.Fatalf("master shift in closed month: expected ErrMonthClosed, got %v", err)
	}

	// Администратор вносит корректировки в закрытый месяц.
	in.Initiator = model.RoleAdmin
	if _, err := svc.CreateShift(context.Background(), in); err != nil {
		t.Fatalf("admin shift in closed month: %v", err)
	}
}

func TestCreateShift_SettlesOutstandingAdvance(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	userID := mustUser(t, repo, "master1", model.RoleMaster)
	now := time.Date(2025, time.January, 20, 0, 0, 0, 0, time.Local)
	svc := newTestService(repo, now)

	// Аванс в месяце без заработка.
	res, err := svc.CreatePayout(ctx, PayoutInput{
		UserID:    userID,
		Month:     month.Month{Year: 2025, Mon: time.January},
		Amount:    4000,
		Date:      time.Date(2025, time.January, 10, 0, 0, 0, 0, time.Local),
		Initiator: model.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("create payout: %v", err)
	}
	if !res.Payout.IsAdvance {
		t.Fatalf("payout without earnings must be an advance")
	}
	if res.Overpayment == nil || *res.Overpayment != 0 {
		t.Fatalf("advance must report zero overpayment, got %v", res.Overpayment)
	}

	// Смена на ту же сумму гасит аванс.
	_, err = svc.CreateShift(ctx, ShiftInput{
		UserID:    userID,
		Date:      time.Date(2025, time.January, 15, 0, 0, 0, 0, time.Local),
		Total:     4000,
		Initiator: model.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("create shift: %v", err)
	}

	p, err := repo.GetPayout(ctx, res.Payout.ID)
	if err != nil {
		t.Fatalf("get payout: %v", err)
	}
	if p.IsAdvance {
		t.Fatalf("advance must be settled by the new shift")
	}
}

func TestCreatePayout_ClosedMonthCarriesOverpayment(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	userID := mustUser(t, repo, "master1", model.RoleMaster)
	now := time.Date(2025, time.February, 10, 0, 0, 0, 0, time.Local)
	svc := newTestService(repo, now)

	_, err := svc.CreateShift(ctx, ShiftInput{
		UserID:    userID,
		Date:      time.Date(2025, time.January, 15, 0, 0, 0, 0, time.Local),
		Total:     10000,
		Initiator: model.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("create shift: %v", err)
	}

	// Январь закрыт календарём: сейчас февраль.
	res, err := svc.CreatePayout(ctx, PayoutInput{
		UserID:    userID,
		Month:     month.Month{Year: 2025, Mon: time.January},
		Amount:    15000,
		Date:      now,
		Initiator: model.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("create payout: %v", err)
	}

	if res.Payout.Amount != 10000_00 {
		t.Fatalf("january keeps %d, want %d", res.Payout.Amount, 10000_00)
	}
	if res.Overpayment == nil || *res.Overpayment != 5000 {
		t.Fatalf("overpayment = %v, want 5000", res.Overpayment)
	}

	feb := month.Month{Year: 2025, Mon: time.February}
	payouts, _ := repo.ListPayouts(ctx, userID, feb)
	if len(payouts) != 1 || payouts[0].Amount != 5000_00 {
		t.Fatalf("february payouts = %+v, want single carryover of 5000", payouts)
	}
	if payouts[0].Comment != "Перенос с января 2025" {
		t.Fatalf("carryover comment = %q", payouts[0].Comment)
	}
}

func TestReversePayout_ExcludedFromSums(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	userID := mustUser(t, repo, "master1", model.RoleMaster)
	now := time.Date(2025, time.January, 20, 0, 0, 0, 0, time.Local)
	svc := newTestService(repo, now)

	_, err := svc.CreateShift(ctx, ShiftInput{
		UserID:    userID,
		Date:      time.Date(2025, time.January, 5, 0, 0, 0, 0, time.Local),
		Total:     5000,
		Initiator: model.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("create shift: %v", err)
	}

	res, err := svc.CreatePayout(ctx, PayoutInput{
		UserID:    userID,
		Month:     month.Month{Year: 2025, Mon: time.January},
		Amount:    3000,
		Date:      time.Date(2025, time.January, 10, 0, 0, 0, 0, time.Local),
		Initiator: model.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("create payout: %v", err)
	}

	if err := svc.ReversePayout(ctx, userID, res.Payout.ID, "ошибка ввода", model.RoleAdmin); err != nil {
		t.Fatalf("reverse payout: %v", err)
	}

	balance, err := svc.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Current != 5000 {
		t.Fatalf("balance after reversal = %v, want 5000", balance.Current)
	}

	// Повторная отмена — ошибка.
	err = svc.ReversePayout(ctx, userID, res.Payout.ID, "ещё раз", model.RoleAdmin)
	if !errors.Is(err, repository.ErrPayoutReversed) {
		t.Fatalf("expected ErrPayoutReversed, got %v", err)
	}
}

func TestGetBalance_ConvertsToRubles(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	userID := mustUser(t, repo, "master1", model.RoleMaster)
	svc := newTestService(repo, time.Date(2025, time.January, 10, 0, 0, 0, 0, time.Local))

	repo.shifts = append(repo.shifts, model.Shift{
		ID: 100, UserID: userID,
		Date:  time.Date(2025, time.January, 5, 0, 0, 0, 0, time.Local),
		Total: 150,
	})
	repo.payouts = append(repo.payouts, model.Payout{
		ID: 100, UserID: userID,
		Month:  month.Month{Year: 2025, Mon: time.January},
		Amount: 50,
	})

	balance, err := svc.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("GetBalance error: %v", err)
	}
	if balance.Earned != 1.5 {
		t.Fatalf("Earned = %v, want 1.5", balance.Earned)
	}
	if balance.Current != 1 {
		t.Fatalf("Current = %v, want 1", balance.Current)
	}
}

func TestMonthSummary_IncludesCarryovers(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	userID := mustUser(t, repo, "master1", model.RoleMaster)
	now := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.Local)
	svc := newTestService(repo, now)

	feb := month.Month{Year: 2025, Mon: time.February}
	jan := month.Month{Year: 2025, Mon: time.January}

	repo.carryovers[carryoverKey(userID, jan, feb)] = model.Carryover{
		UserID: userID, FromMonth: jan, ToMonth: feb, Amount: 5000_00,
	}
	repo.shifts = append(repo.shifts, model.Shift{
		ID: 1, UserID: userID,
		Date:  time.Date(2025, time.February, 5, 0, 0, 0, 0, time.Local),
		Total: 3000_00,
	})
	repo.payouts = append(repo.payouts, model.Payout{
		ID: 1, UserID: userID, Month: feb, Amount: 4000_00,
	})

	sum, err := svc.MonthSummary(ctx, userID, feb)
	if err != nil {
		t.Fatalf("MonthSummary error: %v", err)
	}

	if sum.Earned != 3000_00 {
		t.Fatalf("Earned = %d, want %d", sum.Earned, 3000_00)
	}
	if sum.CarriedIn != 5000_00 {
		t.Fatalf("CarriedIn = %d, want %d", sum.CarriedIn, 5000_00)
	}
	if sum.Remaining != 4000_00 {
		t.Fatalf("Remaining = %d, want %d", sum.Remaining, 4000_00)
	}
	if !sum.Closed {
		t.Fatalf("february must be closed by calendar in march")
	}
}

func TestYearReportXLSX_ProducesWorkbook(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	userID := mustUser(t, repo, "master1", model.RoleMaster)
	svc := newTestService(repo, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.Local))

	data, err := svc.YearReportXLSX(ctx, userID, 2025)
	if err != nil {
		t.Fatalf("YearReportXLSX error: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("empty workbook")
	}
}
