package repository

import (
	"errors"

	"github.com/timmy/outreach/internal/domain"
	"gorm.io/gorm"
)

// translate maps driver-level errors onto domain sentinels.
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
