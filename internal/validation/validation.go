// Package validation содержит проверки входных данных сервиса учёта зарплат.
package validation

import "time"

// IsValidMonth проверяет, что строка задаёт месяц в формате YYYY-MM.
func IsValidMonth(s string) bool {
	if len(s) != 7 {
		return false
	}
	_, err := time.Parse("2006-01", s)
	return err == nil
}

// IsValidDate проверяет, что строка задаёт дату в формате YYYY-MM-DD.
func IsValidDate(s string) bool {
	if len(s) != 10 {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// IsValidAmount проверяет, что сумма в рублях положительна.
func IsValidAmount(amount float64) bool {
	return amount > 0
}
