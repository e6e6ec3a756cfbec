// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mstrokin/salary-ledger/internal/model"
	"github.com/mstrokin/salary-ledger/internal/month"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrShiftNotFound возвращается, если смена не найдена.
	ErrShiftNotFound = errors.New("shift not found")
	// ErrPayoutNotFound возвращается, если выплата не найдена.
	ErrPayoutNotFound = errors.New("payout not found")
	// ErrPayoutReversed возвращается при повторной отмене выплаты.
	ErrPayoutReversed = errors.New("payout already reversed")
)

// Stores объединяет контракты всех хранилищ сервиса. Одна и та же
// реализация работает и поверх пула соединений, и внутри транзакции,
// выданной WithUserLock.
type Stores interface {
	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)

	CreateShift(ctx context.Context, s model.Shift) (model.Shift, error)
	GetShift(ctx context.Context, id int64) (*model.Shift, error)
	DeleteShift(ctx context.Context, id int64) error
	ListShifts(ctx context.Context, userID int64, m month.Month) ([]model.Shift, error)
	SumShiftTotals(ctx context.Context, userID int64) (int64, error)
	SumShiftTotalsBetween(ctx context.Context, userID int64, from, to time.Time) (int64, error)
	SumShiftTotalsThrough(ctx context.Context, userID int64, to time.Time) (int64, error)

	CreatePayout(ctx context.Context, p model.Payout) (model.Payout, error)
	UpsertCarryoverPayout(ctx context.Context, p model.Payout) (model.Payout, error)
	GetPayout(ctx context.Context, id int64) (*model.Payout, error)
	ListPayouts(ctx context.Context, userID int64, m month.Month) ([]model.Payout, error)
	SumPayoutAmounts(ctx context.Context, userID int64) (int64, error)
	SumPayoutAmountsForMonth(ctx context.Context, userID int64, m month.Month) (int64, error)
	SetAdvanceFlag(ctx context.Context, payoutID int64, isAdvance bool) error
	ReversePayout(ctx context.Context, payoutID int64, reason string, at time.Time) error

	GetClosed(ctx context.Context, m month.Month) (closed bool, found bool, err error)
	SetClosed(ctx context.Context, m month.Month, closed bool) error

	UpsertCarryover(ctx context.Context, c model.Carryover) error
	DeleteCarryover(ctx context.Context, userID int64, from, to month.Month) error
	SumCarryoversTo(ctx context.Context, userID int64, to month.Month) (int64, error)
	ListCarryoversByTo(ctx context.Context, userID int64, to month.Month) ([]model.Carryover, error)
	ListCarryoversByFrom(ctx context.Context, userID int64, from month.Month) ([]model.Carryover, error)
}

// db покрывает общие методы pgxpool.Pool и pgx.Tx.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
	*stores
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		stores: &stores{q: pool},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	sqlDB := stdlib.OpenDBFromPool(r.pool)
	defer sqlDB.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithUserLock выполняет fn в транзакции, удерживая блокировку строки
// пользователя. Чтение остатка и запись выплат сериализуются по
// пользователю: параллельные сверки одного пользователя не обгоняют
// друг друга. Конфликты сериализации и дедлоки ретраятся с бэкоффом.
func (r *PostgresRepository) WithUserLock(ctx context.Context, userID int64, fn func(ctx context.Context, s Stores) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.lockAndRun(ctx, userID, fn)
		if isRetryableError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *PostgresRepository) lockAndRun(ctx context.Context, userID int64, fn func(ctx context.Context, s Stores) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var dummy int
	err = tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock user for update: %w", err)
	}

	if err := fn(ctx, &stores{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return false
}

// stores реализует Stores поверх пула или транзакции.
type stores struct {
	q db
}

// CreateUser создаёт нового пользователя с указанной ролью.
func (s *stores) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (s *stores) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE login = $1`,
		login,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *stores) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// CreateShift сохраняет смену и возвращает её с заполненным идентификатором.
func (s *stores) CreateShift(ctx context.Context, sh model.Shift) (model.Shift, error) {
	err := s.q.QueryRow(ctx,
		`INSERT INTO shifts (user_id, work_date, total) VALUES ($1, $2, $3) RETURNING id, created_at`,
		sh.UserID, sh.Date, sh.Total,
	).Scan(&sh.ID, &sh.CreatedAt)
	if err != nil {
		return model.Shift{}, fmt.Errorf("insert shift: %w", err)
	}
	return sh, nil
}

// GetShift возвращает смену по идентификатору.
func (s *stores) GetShift(ctx context.Context, id int64) (*model.Shift, error) {
	var sh model.Shift
	err := s.q.QueryRow(ctx,
		`SELECT id, user_id, work_date, total, created_at FROM shifts WHERE id = $1`,
		id,
	).Scan(&sh.ID, &sh.UserID, &sh.Date, &sh.Total, &sh.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShiftNotFound
		}
		return nil, fmt.Errorf("get shift: %w", err)
	}
	return &sh, nil
}

// DeleteShift удаляет смену.
func (s *stores) DeleteShift(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM shifts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete shift: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrShiftNotFound
	}
	return nil
}

// ListShifts возвращает смены пользователя за месяц в порядке дат.
func (s *stores) ListShifts(ctx context.Context, userID int64, m month.Month) ([]model.Shift, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, user_id, work_date, total, created_at
		 FROM shifts
		 WHERE user_id = $1 AND work_date BETWEEN $2 AND $3
		 ORDER BY work_date, id`,
		userID, m.Start(), m.End(),
	)
	if err != nil {
		return nil, fmt.Errorf("select shifts: %w", err)
	}
	defer rows.Close()

	var res []model.Shift
	for rows.Next() {
		var sh model.Shift
		if err := rows.Scan(&sh.ID, &sh.UserID, &sh.Date, &sh.Total, &sh.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan shift: %w", err)
		}
		res = append(res, sh)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SumShiftTotals возвращает суммарный заработок пользователя за всё время.
func (s *stores) SumShiftTotals(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := s.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(total), 0) FROM shifts WHERE user_id = $1`,
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum shift totals: %w", err)
	}
	return total, nil
}

// SumShiftTotalsBetween возвращает заработок за смены в диапазоне дат включительно.
func (s *stores) SumShiftTotalsBetween(ctx context.Context, userID int64, from, to time.Time) (int64, error) {
	var total int64
	err := s.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(total), 0) FROM shifts WHERE user_id = $1 AND work_date BETWEEN $2 AND $3`,
		userID, from, to,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum shift totals between: %w", err)
	}
	return total, nil
}

// SumShiftTotalsThrough возвращает заработок за смены с датой не позднее to.
func (s *stores) SumShiftTotalsThrough(ctx context.Context, userID int64, to time.Time) (int64, error) {
	var total int64
	err := s.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(total), 0) FROM shifts WHERE user_id = $1 AND work_date <= $2`,
		userID, to,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum shift totals through: %w", err)
	}
	return total, nil
}

// CreatePayout сохраняет выплату и возвращает её с заполненным идентификатором.
func (s *stores) CreatePayout(ctx context.Context, p model.Payout) (model.Payout, error) {
	err := s.q.QueryRow(ctx,
		`INSERT INTO payouts (user_id, month, amount, payout_date, comment, is_advance, initiator_role, method, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		p.UserID, p.Month.String(), p.Amount, p.Date, p.Comment, p.IsAdvance,
		string(p.InitiatorRole), p.Method, string(p.Source),
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return model.Payout{}, fmt.Errorf("insert payout: %w", err)
	}
	return p, nil
}

// UpsertCarryoverPayout создаёт выплату-перенос или заменяет сумму
// существующей для того же месяца-источника. Накопления не происходит.
func (s *stores) UpsertCarryoverPayout(ctx context.Context, p model.Payout) (model.Payout, error) {
	err := s.q.QueryRow(ctx,
		`INSERT INTO payouts (user_id, month, amount, payout_date, comment, is_advance, initiator_role, method, source)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7, 'carryover')
		 ON CONFLICT (user_id, month, comment) WHERE source = 'carryover' AND reversed_at IS NULL
		 DO UPDATE SET amount = EXCLUDED.amount, payout_date = EXCLUDED.payout_date
		 RETURNING id, created_at`,
		p.UserID, p.Month.String(), p.Amount, p.Date, p.Comment,
		string(p.InitiatorRole), p.Method,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return model.Payout{}, fmt.Errorf("upsert carryover payout: %w", err)
	}
	p.IsAdvance = false
	p.Source = model.SourceCarryover
	return p, nil
}

const payoutColumns = `id, user_id, month, amount, payout_date, comment, is_advance,
	initiator_role, method, source, reversed_at, reversal_reason, created_at`

func scanPayout(row pgx.Row) (model.Payout, error) {
	var (
		p        model.Payout
		monthStr string
		role     string
		source   string
	)
	err := row.Scan(&p.ID, &p.UserID, &monthStr, &p.Amount, &p.Date, &p.Comment, &p.IsAdvance,
		&role, &p.Method, &source, &p.ReversedAt, &p.ReversalReason, &p.CreatedAt)
	if err != nil {
		return model.Payout{}, err
	}

	m, err := month.Parse(monthStr)
	if err != nil {
		return model.Payout{}, err
	}

	p.Month = m
	p.InitiatorRole = model.Role(role)
	p.Source = model.PayoutSource(source)
	return p, nil
}

// GetPayout возвращает выплату по идентификатору, включая отменённые.
func (s *stores) GetPayout(ctx context.Context, id int64) (*model.Payout, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id,
	)
	p, err := scanPayout(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayoutNotFound
		}
		return nil, fmt.Errorf("get payout: %w", err)
	}
	return &p, nil
}

// ListPayouts возвращает неотменённые выплаты месяца в порядке создания.
// Порядок по идентификатору задаёт очередь погашения авансов.
func (s *stores) ListPayouts(ctx context.Context, userID int64, m month.Month) ([]model.Payout, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+payoutColumns+`
		 FROM payouts
		 WHERE user_id = $1 AND month = $2 AND reversed_at IS NULL
		 ORDER BY id`,
		userID, m.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("select payouts: %w", err)
	}
	defer rows.Close()

	var res []model.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SumPayoutAmounts возвращает сумму всех неотменённых выплат пользователя.
func (s *stores) SumPayoutAmounts(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := s.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payouts WHERE user_id = $1 AND reversed_at IS NULL`,
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum payout amounts: %w", err)
	}
	return total, nil
}

// SumPayoutAmountsForMonth возвращает сумму неотменённых выплат месяца атрибуции.
func (s *stores) SumPayoutAmountsForMonth(ctx context.Context, userID int64, m month.Month) (int64, error) {
	var total int64
	err := s.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payouts WHERE user_id = $1 AND month = $2 AND reversed_at IS NULL`,
		userID, m.String(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum month payout amounts: %w", err)
	}
	return total, nil
}

// SetAdvanceFlag переключает признак аванса у выплаты.
func (s *stores) SetAdvanceFlag(ctx context.Context, payoutID int64, isAdvance bool) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE payouts SET is_advance = $2 WHERE id = $1`,
		payoutID, isAdvance,
	)
	if err != nil {
		return fmt.Errorf("set advance flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPayoutNotFound
	}
	return nil
}

// ReversePayout помечает выплату отменённой. Отменённые выплаты
// исключаются из сумм, но сохраняются для истории.
func (s *stores) ReversePayout(ctx context.Context, payoutID int64, reason string, at time.Time) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE payouts SET reversed_at = $2, reversal_reason = $3 WHERE id = $1 AND reversed_at IS NULL`,
		payoutID, at, reason,
	)
	if err != nil {
		return fmt.Errorf("reverse payout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetPayout(ctx, payoutID); err != nil {
			return err
		}
		return ErrPayoutReversed
	}
	return nil
}

// GetClosed возвращает ручной статус месяца. found=false означает
// отсутствие записи: месяц открыт по умолчанию.
func (s *stores) GetClosed(ctx context.Context, m month.Month) (bool, bool, error) {
	var closed bool
	err := s.q.QueryRow(ctx,
		`SELECT closed FROM month_statuses WHERE month = $1`,
		m.String(),
	).Scan(&closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("get month status: %w", err)
	}
	return closed, true, nil
}

// SetClosed выставляет ручной статус месяца.
func (s *stores) SetClosed(ctx context.Context, m month.Month, closed bool) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO month_statuses (month, closed) VALUES ($1, $2)
		 ON CONFLICT (month) DO UPDATE SET closed = EXCLUDED.closed, updated_at = now()`,
		m.String(), closed,
	)
	if err != nil {
		return fmt.Errorf("set month status: %w", err)
	}
	return nil
}

// UpsertCarryover создаёт или заменяет ребро переноса. На тройку
// (пользователь, откуда, куда) существует не более одной записи.
func (s *stores) UpsertCarryover(ctx context.Context, c model.Carryover) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO carryovers (user_id, from_month, to_month, amount) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, from_month, to_month) DO UPDATE SET amount = EXCLUDED.amount`,
		c.UserID, c.FromMonth.String(), c.ToMonth.String(), c.Amount,
	)
	if err != nil {
		return fmt.Errorf("upsert carryover: %w", err)
	}
	return nil
}

// DeleteCarryover удаляет ребро переноса, если оно существует.
func (s *stores) DeleteCarryover(ctx context.Context, userID int64, from, to month.Month) error {
	_, err := s.q.Exec(ctx,
		`DELETE FROM carryovers WHERE user_id = $1 AND from_month = $2 AND to_month = $3`,
		userID, from.String(), to.String(),
	)
	if err != nil {
		return fmt.Errorf("delete carryover: %w", err)
	}
	return nil
}

// SumCarryoversTo возвращает сумму переносов, входящих в месяц.
func (s *stores) SumCarryoversTo(ctx context.Context, userID int64, to month.Month) (int64, error) {
	var total int64
	err := s.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM carryovers WHERE user_id = $1 AND to_month = $2`,
		userID, to.String(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum carryovers to: %w", err)
	}
	return total, nil
}

// ListCarryoversByTo возвращает переносы, входящие в месяц.
func (s *stores) ListCarryoversByTo(ctx context.Context, userID int64, to month.Month) ([]model.Carryover, error) {
	return s.listCarryovers(ctx,
		`SELECT user_id, from_month, to_month, amount FROM carryovers WHERE user_id = $1 AND to_month = $2 ORDER BY from_month`,
		userID, to.String(),
	)
}

// ListCarryoversByFrom возвращает переносы, исходящие из месяца.
func (s *stores) ListCarryoversByFrom(ctx context.Context, userID int64, from month.Month) ([]model.Carryover, error) {
	return s.listCarryovers(ctx,
		`SELECT user_id, from_month, to_month, amount FROM carryovers WHERE user_id = $1 AND from_month = $2 ORDER BY to_month`,
		userID, from.String(),
	)
}

func (s *stores) listCarryovers(ctx context.Context, query string, args ...any) ([]model.Carryover, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select carryovers: %w", err)
	}
	defer rows.Close()

	var res []model.Carryover
	for rows.Next() {
		var (
			c        model.Carryover
			fromStr  string
			toStr    string
		)
		if err := rows.Scan(&c.UserID, &fromStr, &toStr, &c.Amount); err != nil {
			return nil, fmt.Errorf("scan carryover: %w", err)
		}
		if c.FromMonth, err = month.Parse(fromStr); err != nil {
			return nil, fmt.Errorf("parse from month: %w", err)
		}
		if c.ToMonth, err = month.Parse(toStr); err != nil {
			return nil, fmt.Errorf("parse to month: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
