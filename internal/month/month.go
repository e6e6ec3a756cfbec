// Package month реализует календарный месяц начисления в формате YYYY-MM.
package month

import (
	"fmt"
	"time"
)

// Month задаёт календарный месяц, к которому привязываются смены и выплаты.
// Нулевое значение невалидно и означает отсутствие месяца.
type Month struct {
	Year int
	Mon  time.Month
}

// Parse разбирает строку формата YYYY-MM.
func Parse(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("parse month %q: %w", s, err)
	}
	return Month{Year: t.Year(), Mon: t.Month()}, nil
}

// Of возвращает месяц, которому принадлежит дата.
func Of(t time.Time) Month {
	return Month{Year: t.Year(), Mon: t.Month()}
}

// String возвращает месяц в формате YYYY-MM.
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Mon))
}

// IsZero сообщает, что месяц не задан.
func (m Month) IsZero() bool {
	return m.Year == 0 && m.Mon == 0
}

// Next возвращает следующий календарный месяц.
func (m Month) Next() Month {
	if m.Mon == time.December {
		return Month{Year: m.Year + 1, Mon: time.January}
	}
	return Month{Year: m.Year, Mon: m.Mon + 1}
}

// Start возвращает первый календарный день месяца.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Mon, 1, 0, 0, 0, 0, time.Local)
}

// End возвращает последний календарный день месяца.
func (m Month) End() time.Time {
	return m.Start().AddDate(0, 1, -1)
}

// Contains сообщает, попадает ли дата в месяц.
func (m Month) Contains(t time.Time) bool {
	return t.Year() == m.Year && t.Month() == m.Mon
}

// Названия месяцев в родительном падеже для комментариев переноса.
var genitiveNames = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

// CarryoverComment формирует комментарий выплаты-переноса переплаты из месяца m.
func CarryoverComment(m Month) string {
	return fmt.Sprintf("Перенос с %s %d", genitiveNames[m.Mon-1], m.Year)
}
