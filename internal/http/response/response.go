// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator"
	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/travel-planner/internal/services/entitlement"
)

const (
	// StatusOK значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// OKResponse описывает стандартную структуру успешного JSON‑ответа.
type OKResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse описывает ответ с ошибкой. Code заполняется для отказов
// по тарифу и оплате.
type ErrorResponse struct {
	Status string `json:"status" example:"Error"`
	Error  string `json:"error" example:"invalid request body"`
	Code   string `json:"code,omitempty" example:"payment_required"`
	Data   any    `json:"data,omitempty"`
}

// PaymentDetails подсказка клиенту, сколько и где оплатить.
type PaymentDetails struct {
	VideoPrice  decimal.Decimal `json:"video_price"`
	Currency    string          `json:"currency"`
	CheckoutURL string          `json:"checkout_url"`
}

// UpgradeDetails подсказка о смене тарифа.
type UpgradeDetails struct {
	Used       int    `json:"used,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	UpgradeURL string `json:"upgrade_url"`
}

const (
	checkoutURL = "/api/v1/payments/checkout/video"
	upgradeURL  = "/pricing"
)

// OKWithData возвращает успешный Response с переданными данными.
func OKWithData(data any) OKResponse {
	return OKResponse{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает Response с ошибкой и переданным сообщением.
func Error(msg string) ErrorResponse {
	return ErrorResponse{
		Status: StatusError,
		Error:  msg,
	}
}

// Denied переводит отказ по тарифу в HTTP-статус и тело ответа.
// Вторым значением возвращается false, если err не является отказом.
func Denied(err error) (int, ErrorResponse, bool) {
	var e *entitlement.Error
	if !errors.As(err, &e) {
		return 0, ErrorResponse{}, false
	}

	resp := ErrorResponse{Status: StatusError, Error: e.Message, Code: string(e.Reason)}
	switch e.Reason {
	case entitlement.ReasonPaymentRequired:
		if e.Price != nil {
			resp.Data = PaymentDetails{VideoPrice: *e.Price, Currency: e.Currency, CheckoutURL: checkoutURL}
		}
		return http.StatusPaymentRequired, resp, true
	case entitlement.ReasonPaymentInvalid:
		return http.StatusPaymentRequired, resp, true
	case entitlement.ReasonPaymentAlreadyUsed:
		return http.StatusConflict, resp, true
	case entitlement.ReasonLimitReached:
		resp.Data = UpgradeDetails{Used: e.Used, Limit: e.Limit, UpgradeURL: upgradeURL}
		return http.StatusForbidden, resp, true
	default:
		resp.Data = UpgradeDetails{UpgradeURL: upgradeURL}
		return http.StatusForbidden, resp, true
	}
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) ErrorResponse {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "alphanum":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers and letters", err.Field()))
		case "uuid":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only uuid", err.Field()))
		case "email":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "oneof":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be one of: %s", err.Field(), err.Param()))
		case "min", "max", "gt":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is out of range (%s %s)", err.Field(), err.ActualTag(), err.Param()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return ErrorResponse{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}
