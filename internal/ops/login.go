package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/evtrack/internal/model"
	"github.com/hpungsan/evtrack/internal/store"
)

// RecordLoginInput contains parameters for the RecordLogin operation.
type RecordLoginInput struct {
	UserName  string // required
	IPAddress string
	SessionID string
	Date      *int64 // default: now (ms)
}

// RecordLoginOutput contains the stored login.
type RecordLoginOutput struct {
	Login model.LoginRecord `json:"login"`
}

// RecordLogin appends to the global login log.
func RecordLogin(ctx context.Context, projects Projects, input RecordLoginInput) (*RecordLoginOutput, error) {
	logins, err := projects.Logins(ctx)
	if err != nil {
		return nil, err
	}
	rec := model.LoginRecord{
		UserName:  input.UserName,
		IPAddress: input.IPAddress,
		SessionID: strings.TrimSpace(input.SessionID),
		Date:      nowMillis(),
	}
	if input.Date != nil {
		rec.Date = *input.Date
	}
	if _, err := logins.Append(ctx, &rec); err != nil {
		return nil, err
	}
	return &RecordLoginOutput{Login: rec}, nil
}

// QueryLoginsInput contains parameters for the QueryLogins operation.
type QueryLoginsInput struct {
	UserName *string
	From     *int64
	To       *int64
	Limit    int // default: 50, max: 500
}

// QueryLoginsOutput contains matching logins, newest first.
type QueryLoginsOutput struct {
	Items []model.LoginRecord `json:"items"`
	Limit int                 `json:"limit"`
}

// QueryLogins searches the global login log.
func QueryLogins(ctx context.Context, projects Projects, input QueryLoginsInput) (*QueryLoginsOutput, error) {
	limit := clampLimit(input.Limit, DefaultQueryLimit, MaxQueryLimit)
	logins, err := projects.Logins(ctx)
	if err != nil {
		return nil, err
	}
	items, err := logins.Query(ctx, store.LoginQuery{
		User:  cleanOptionalString(input.UserName),
		From:  input.From,
		To:    input.To,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	return &QueryLoginsOutput{Items: items, Limit: limit}, nil
}
