// Package sl атрибуты slog, общие для всех сервисов.
package sl

import "log/slog"

// Err атрибут "error" с текстом ошибки. Для nil пишется пустая строка,
// чтобы опциональные ошибки side-channel можно было логировать без проверки.
//
//	log.Warn("failed to record usage", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
