// Package storage содержит ошибки уровня хранилища, общие для репозиториев.
package storage

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrQuotaExhausted       = errors.New("quota exhausted")
	ErrPaymentReferenceUsed = errors.New("payment reference already used")
	ErrJobTerminal          = errors.New("job is in terminal state")
	ErrJobClaimed           = errors.New("job attempt already claimed")
)
