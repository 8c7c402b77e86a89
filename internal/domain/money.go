package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// currencyExponents — число знаков после запятой для валют, где их не два (ISO 4217).
var currencyExponents = map[string]int32{
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0, "ISK": 0,
	"BHD": 3, "KWD": 3, "OMR": 3, "JOD": 3, "TND": 3,
}

// CurrencyExponent возвращает число знаков минорной единицы валюты; по умолчанию 2.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return exp
	}
	return 2
}

// FormatAmount переводит сумму в минорных единицах в строку для логов и ответов: "12.50 USD".
// Расчёты всегда ведутся в минорных единицах, эта строка только для отображения.
func FormatAmount(amountMinor int64, currency string) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	exp := CurrencyExponent(code)
	value := decimal.New(amountMinor, -exp).StringFixed(exp)
	if code == "" {
		return value
	}
	return value + " " + code
}
