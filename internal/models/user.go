// Package models содержит доменные структуры сервиса планирования путешествий:
// пользователей, подписки, тарифы, задачи генерации, учет использования и покупки.
package models

import "time"

// User представляет зарегистрированного пользователя системы.
type User struct {
	ID           string    // Уникальный идентификатор пользователя (uuid)
	Email        string    // Электронная почта
	Username     string    // Имя пользователя
	PasswordHash string    // Хэш пароля пользователя
	Role         Role      // Роль пользователя
	PlanTier     PlanTier  // Тариф, записанный в профиле
	IsActive     bool      // Флаг активной учетной записи
	CreatedAt    time.Time // Дата регистрации
}

// RegisterRequest данные для регистрации пользователя.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,alphanum,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest данные для входа.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
