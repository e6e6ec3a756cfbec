// Package handler содержит HTTP-обработчики API сервиса учёта зарплат.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mstrokin/salary-ledger/internal/middleware"
	"github.com/mstrokin/salary-ledger/internal/model"
	"github.com/mstrokin/salary-ledger/internal/month"
	"github.com/mstrokin/salary-ledger/internal/repository"
	"github.com/mstrokin/salary-ledger/internal/service"
	"github.com/mstrokin/salary-ledger/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string, role model.Role) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)

	CreateShift(ctx context.Context, in service.ShiftInput) (model.Shift, error)
	DeleteShift(ctx context.Context, userID, shiftID int64, initiator model.Role) error
	ListShifts(ctx context.Context, userID int64, m month.Month) ([]model.Shift, error)

	CreatePayout(ctx context.Context, in service.PayoutInput) (service.PayoutResult, error)
	ReversePayout(ctx context.Context, userID, payoutID int64, reason string, initiator model.Role) error
	ListPayouts(ctx context.Context, userID int64, m month.Month) ([]model.Payout, error)

	RecalculateMonth(ctx context.Context, userID int64, m month.Month) error
	SweepOverpayment(ctx context.Context, userID int64, m month.Month, date time.Time) error
	SetMonthClosed(ctx context.Context, m month.Month, closed bool) error

	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	MonthSummary(ctx context.Context, userID int64, m month.Month) (*model.MonthSummary, error)
	YearReportXLSX(ctx context.Context, userID int64, year int) ([]byte, error)
}

// Handler реализует HTTP-обработчики API сервиса учёта зарплат.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	role := model.Role(req.Role)
	if role != "" && role != model.RoleMaster && role != model.RoleAdmin {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, role)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// currentUser возвращает аутентифицированного пользователя запроса.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return nil, false
	}

	u, err := h.service.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return nil, false
		}
		h.logger.Error("get current user error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}

	return u, true
}

// RequireAdmin пропускает дальше только администраторов.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := h.currentUser(w, r)
		if !ok {
			return
		}
		if u.Role != model.RoleAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func monthFromQuery(r *http.Request) (month.Month, bool) {
	raw := r.URL.Query().Get("month")
	if !validation.IsValidMonth(raw) {
		return month.Month{}, false
	}
	m, err := month.Parse(raw)
	if err != nil {
		return month.Month{}, false
	}
	return m, true
}

func monthFromURL(r *http.Request) (month.Month, bool) {
	raw := chi.URLParam(r, "month")
	if !validation.IsValidMonth(raw) {
		return month.Month{}, false
	}
	m, err := month.Parse(raw)
	if err != nil {
		return month.Month{}, false
	}
	return m, true
}

func idFromURL(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type shiftRequest struct {
	Date  string  `json:"date"`
	Total float64 `json:"total"`
}

type shiftResponse struct {
	ID    int64   `json:"id"`
	Date  string  `json:"date"`
	Total float64 `json:"total"`
}

func newShiftResponse(sh model.Shift) shiftResponse {
	return shiftResponse{
		ID:    sh.ID,
		Date:  sh.Date.Format("2006-01-02"),
		Total: float64(sh.Total) / 100,
	}
}

// CreateShift добавляет смену текущему пользователю.
func (h *Handler) CreateShift(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	h.createShift(w, r, u.ID, u.Role)
}

// CreateShiftFor добавляет смену указанному пользователю от имени администратора.
func (h *Handler) CreateShiftFor(w http.ResponseWriter, r *http.Request) {
	userID, ok := idFromURL(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.createShift(w, r, userID, model.RoleAdmin)
}

func (h *Handler) createShift(w http.ResponseWriter, r *http.Request, userID int64, initiator model.Role) {
	var req shiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidDate(req.Date) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", req.Date, time.Local)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	sh, err := h.service.CreateShift(r.Context(), service.ShiftInput{
		UserID:    userID,
		Date:      date,
		Total:     req.Total,
		Initiator: initiator,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, service.ErrMonthClosed):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("create shift error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, newShiftResponse(sh))
}

// GetShifts возвращает смены текущего пользователя за месяц.
func (h *Handler) GetShifts(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	h.listShifts(w, r, u.ID)
}

// GetShiftsFor возвращает смены указанного пользователя за месяц.
func (h *Handler) GetShiftsFor(w http.ResponseWriter, r *http.Request) {
	userID, ok := idFromURL(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.listShifts(w, r, userID)
}

func (h *Handler) listShifts(w http.ResponseWriter, r *http.Request, userID int64) {
	m, ok := monthFromQuery(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	shifts, err := h.service.ListShifts(r.Context(), userID, m)
	if err != nil {
		h.logger.Error("list shifts error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(shifts) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]shiftResponse, 0, len(shifts))
	for _, sh := range shifts {
		resp = append(resp, newShiftResponse(sh))
	}
	writeJSON(w, resp)
}

// DeleteShift удаляет смену текущего пользователя.
func (h *Handler) DeleteShift(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	h.deleteShift(w, r, u.ID, u.Role)
}

// DeleteShiftFor удаляет смену указанного пользователя от имени администратора.
func (h *Handler) DeleteShiftFor(w http.ResponseWriter, r *http.Request) {
	userID, ok := idFromURL(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.deleteShift(w, r, userID, model.RoleAdmin)
}

func (h *Handler) deleteShift(w http.ResponseWriter, r *http.Request, userID int64, initiator model.Role) {
	shiftID, ok := idFromURL(r, "shiftID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.DeleteShift(r.Context(), userID, shiftID, initiator)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrShiftNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrMonthClosed):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("delete shift error", zap.Error(err), zap.Int64("userID", userID), zap.Int64("shiftID", shiftID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

type payoutRequest struct {
	Month   string  `json:"month"`
	Amount  float64 `json:"amount"`
	Date    string  `json:"date,omitempty"`
	Comment string  `json:"comment,omitempty"`
	Method  string  `json:"method,omitempty"`
}

type payoutResponse struct {
	ID        int64   `json:"id"`
	Month     string  `json:"month"`
	Amount    float64 `json:"amount"`
	Date      string  `json:"date"`
	Comment   string  `json:"comment,omitempty"`
	Method    string  `json:"method,omitempty"`
	Source    string  `json:"source"`
	IsAdvance bool    `json:"is_advance"`
	Reversed  bool    `json:"reversed,omitempty"`
}

func newPayoutResponse(p model.Payout) payoutResponse {
	return payoutResponse{
		ID:        p.ID,
		Month:     p.Month.String(),
		Amount:    float64(p.Amount) / 100,
		Date:      p.Date.Format("2006-01-02"),
		Comment:   p.Comment,
		Method:    p.Method,
		Source:    string(p.Source),
		IsAdvance: p.IsAdvance,
		Reversed:  p.Reversed(),
	}
}

type createPayoutResponse struct {
	Payout      payoutResponse `json:"payout"`
	Overpayment *float64       `json:"overpayment,omitempty"`
}

// CreatePayout регистрирует выплату текущему пользователю.
func (h *Handler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	h.createPayout(w, r, u.ID, u.Role)
}

// CreatePayoutFor регистрирует выплату указанному пользователю от имени администратора.
func (h *Handler) CreatePayoutFor(w http.ResponseWriter, r *http.Request) {
	userID, ok := idFromURL(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.createPayout(w, r, userID, model.RoleAdmin)
}

func (h *Handler) createPayout(w http.ResponseWriter, r *http.Request, userID int64, initiator model.Role) {
	var req payoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidMonth(req.Month) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}
	m, err := month.Parse(req.Month)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	date := time.Now()
	if req.Date != "" {
		if !validation.IsValidDate(req.Date) {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
		date, err = time.ParseInLocation("2006-01-02", req.Date, time.Local)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
	}

	res, err := h.service.CreatePayout(r.Context(), service.PayoutInput{
		UserID:    userID,
		Month:     m,
		Amount:    req.Amount,
		Date:      date,
		Comment:   req.Comment,
		Method:    req.Method,
		Initiator: initiator,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, service.ErrMonthClosed):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("create payout error", zap.Error(err), zap.Int64("userID", userID), zap.String("month", m.String()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, createPayoutResponse{
		Payout:      newPayoutResponse(res.Payout),
		Overpayment: res.Overpayment,
	})
}

// GetPayouts возвращает выплаты текущего пользователя за месяц.
func (h *Handler) GetPayouts(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	h.listPayouts(w, r, u.ID)
}

// GetPayoutsFor возвращает выплаты указанного пользователя за месяц.
func (h *Handler) GetPayoutsFor(w http.ResponseWriter, r *http.Request) {
	userID, ok := idFromURL(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.listPayouts(w, r, userID)
}

func (h *Handler) listPayouts(w http.ResponseWriter, r *http.Request, userID int64) {
	m, ok := monthFromQuery(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	payouts, err := h.service.ListPayouts(r.Context(), userID, m)
	if err != nil {
		h.logger.Error("list payouts error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(payouts) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]payoutResponse, 0, len(payouts))
	for _, p := range payouts {
		resp = append(resp, newPayoutResponse(p))
	}
	writeJSON(w, resp)
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

// ReversePayout отменяет выплату текущего пользователя.
func (h *Handler) ReversePayout(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	h.reversePayout(w, r, u.ID, u.Role)
}

// ReversePayoutFor отменяет выплату указанного пользователя от имени администратора.
func (h *Handler) ReversePayoutFor(w http.ResponseWriter, r *http.Request) {
	userID, ok := idFromURL(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.reversePayout(w, r, userID, model.RoleAdmin)
}

func (h *Handler) reversePayout(w http.ResponseWriter, r *http.Request, userID int64, initiator model.Role) {
	payoutID, ok := idFromURL(r, "payoutID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req reverseRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	err := h.service.ReversePayout(r.Context(), userID, payoutID, req.Reason, initiator)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPayoutNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrPayoutReversed):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, service.ErrMonthClosed):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("reverse payout error", zap.Error(err), zap.Int64("userID", userID), zap.Int64("payoutID", payoutID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, balance)
}

type summaryResponse struct {
	Month      string  `json:"month"`
	Earned     float64 `json:"earned"`
	Paid       float64 `json:"paid"`
	Remaining  float64 `json:"remaining"`
	Progress   float64 `json:"progress"`
	Closed     bool    `json:"closed"`
	CarriedIn  float64 `json:"carried_in"`
	CarriedOut float64 `json:"carried_out"`
}

func newSummaryResponse(s *model.MonthSummary) summaryResponse {
	return summaryResponse{
		Month:      s.Month.String(),
		Earned:     float64(s.Earned) / 100,
		Paid:       float64(s.Paid) / 100,
		Remaining:  float64(s.Remaining) / 100,
		Progress:   s.Progress,
		Closed:     s.Closed,
		CarriedIn:  float64(s.CarriedIn) / 100,
		CarriedOut: float64(s.CarriedOut) / 100,
	}
}

// GetSummary возвращает помесячную сводку текущего пользователя.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	h.monthSummary(w, r, u.ID)
}

// GetSummaryFor возвращает помесячную сводку указанного пользователя.
func (h *Handler) GetSummaryFor(w http.ResponseWriter, r *http.Request) {
	userID, ok := idFromURL(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.monthSummary(w, r, userID)
}

func (h *Handler) monthSummary(w http.ResponseWriter, r *http.Request, userID int64) {
	m, ok := monthFromQuery(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	s, err := h.service.MonthSummary(r.Context(), userID, m)
	if err != nil {
		h.logger.Error("month summary error", zap.Error(err), zap.Int64("userID", userID), zap.String("month", m.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, newSummaryResponse(s))
}

// GetReport выгружает годовой отчёт текущего пользователя в формате XLSX.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	h.yearReport(w, r, u.ID)
}

// GetReportFor выгружает годовой отчёт указанного пользователя.
func (h *Handler) GetReportFor(w http.ResponseWriter, r *http.Request) {
	userID, ok := idFromURL(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.yearReport(w, r, userID)
}

func (h *Handler) yearReport(w http.ResponseWriter, r *http.Request, userID int64) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 2000 || year > 2100 {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	data, err := h.service.YearReportXLSX(r.Context(), userID, year)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("year report error", zap.Error(err), zap.Int64("userID", userID), zap.Int("year", year))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=report_%d.xlsx", year))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type monthStatusRequest struct {
	Closed bool `json:"closed"`
}

// SetMonthStatus выставляет ручной статус месяца.
func (h *Handler) SetMonthStatus(w http.ResponseWriter, r *http.Request) {
	m, ok := monthFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	var req monthStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetMonthClosed(r.Context(), m, req.Closed); err != nil {
		h.logger.Error("set month status error", zap.Error(err), zap.String("month", m.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// RecalculateMonth пересчитывает авансы и переносы месяца указанного пользователя.
func (h *Handler) RecalculateMonth(w http.ResponseWriter, r *http.Request) {
	userID, ok := idFromURL(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	m, ok := monthFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	if err := h.service.RecalculateMonth(r.Context(), userID, m); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("recalculate month error", zap.Error(err), zap.Int64("userID", userID), zap.String("month", m.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type sweepRequest struct {
	Date string `json:"date,omitempty"`
}

// SweepOverpayment проталкивает переплату месяца указанного пользователя
// по следующим месяцам.
func (h *Handler) SweepOverpayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := idFromURL(r, "userID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	m, ok := monthFromURL(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	var req sweepRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	date := time.Now()
	if req.Date != "" {
		if !validation.IsValidDate(req.Date) {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
		var err error
		date, err = time.ParseInLocation("2006-01-02", req.Date, time.Local)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
	}

	if err := h.service.SweepOverpayment(r.Context(), userID, m, date); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("sweep overpayment error", zap.Error(err), zap.Int64("userID", userID), zap.String("month", m.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
