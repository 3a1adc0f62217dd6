package models

import (
	"time"

	"github.com/google/uuid"
)

// User - пользователь, созданный при первом успешном входе через
// внешнего провайдера. Пара (Provider, ProviderID) уникальна;
// после создания изменяется только DisplayName.
type User struct {
	ID          uuid.UUID
	Provider    string
	ProviderID  string
	DisplayName string
	CreatedAt   time.Time
}
