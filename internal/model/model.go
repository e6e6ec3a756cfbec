// Package model содержит доменные структуры сервиса учёта зарплат.
package model

import (
	"time"

	"github.com/mstrokin/salary-ledger/internal/month"
)

// Role задаёт роль инициатора операции.
type Role string

// Возможные роли.
const (
	RoleAdmin  Role = "admin"
	RoleMaster Role = "master"
	// RoleSystem — служебные операции движка сверки (выплаты-переносы).
	RoleSystem Role = "system"
)

// PayoutSource задаёт происхождение выплаты.
type PayoutSource string

// Возможные источники выплат.
const (
	SourceManual    PayoutSource = "manual"
	SourceCarryover PayoutSource = "carryover"
)

// User представляет пользователя сервиса.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// Shift представляет отработанную смену мастера. Total в копейках.
type Shift struct {
	ID        int64
	UserID    int64
	Date      time.Time
	Total     int64
	CreatedAt time.Time
}

// Payout представляет выплату мастеру. Amount в копейках. Month — месяц
// атрибуции выплаты, он может отличаться от календарного месяца Date.
// Идентификаторы монотонны: порядок выдачи авансов определяется по ID.
type Payout struct {
	ID             int64
	UserID         int64
	Month          month.Month
	Amount         int64
	Date           time.Time
	Comment        string
	IsAdvance      bool
	InitiatorRole  Role
	Method         string
	Source         PayoutSource
	ReversedAt     *time.Time
	ReversalReason string
	CreatedAt      time.Time
}

// Reversed сообщает, отменена ли выплата.
func (p Payout) Reversed() bool {
	return p.ReversedAt != nil
}

// Carryover представляет действующий перенос переплаты между соседними
// месяцами. Amount в копейках. Тройка (UserID, FromMonth, ToMonth)
// уникальна: повторный перенос заменяет сумму.
type Carryover struct {
	ID        int64
	UserID    int64
	FromMonth month.Month
	ToMonth   month.Month
	Amount    int64
	CreatedAt time.Time
}

// MonthStatus хранит ручной статус месяца.
type MonthStatus struct {
	Month     month.Month
	Closed    bool
	UpdatedAt time.Time
}

// Balance представляет итоговый баланс пользователя в рублях.
type Balance struct {
	Earned  float64 `json:"earned"`
	Paid    float64 `json:"paid"`
	Current float64 `json:"current"`
}

// MonthSummary — помесячная сводка пользователя. Суммы в копейках,
// Remaining и Progress считаются от ёмкости месяца: заработок плюс
// входящие переносы.
type MonthSummary struct {
	Month      month.Month
	Earned     int64
	Paid       int64
	Remaining  int64
	Progress   float64
	Closed     bool
	CarriedIn  int64
	CarriedOut int64
}
