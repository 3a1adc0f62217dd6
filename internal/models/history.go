package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryHistory — запись аудита: один завершённый обмен «запрос-ответ».
// Пишется для каждого обмена (включая попадания в кэш и оборванные
// стримы) и никогда не изменяется.
type QueryHistory struct {
	ID        uuid.UUID
	UserID    uuid.NullUUID
	Prompt    string
	Response  string
	CreatedAt time.Time
}
