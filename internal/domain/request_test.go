package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestCancellable(t *testing.T) {
	now := time.Now()
	cancelLock := time.Hour

	tests := []struct {
		name        string
		status      RequestStatus
		submittedAt time.Time
		vaultStatus VaultStatus
		wantErr     error
	}{
		{
			name:        "pending request after lock in normal vault",
			status:      RequestStatusPending,
			submittedAt: now.Add(-2 * time.Hour),
			vaultStatus: StatusNormal,
		},
		{
			name:        "disabled vault still releases escrow",
			status:      RequestStatusPending,
			submittedAt: now.Add(-2 * time.Hour),
			vaultStatus: StatusDisabled,
		},
		{
			name:        "blocked during operation",
			status:      RequestStatusPending,
			submittedAt: now.Add(-2 * time.Hour),
			vaultStatus: StatusDuringOperation,
			wantErr:     ErrState,
		},
		{
			name:        "cancel lock not elapsed",
			status:      RequestStatusPending,
			submittedAt: now.Add(-time.Minute),
			vaultStatus: StatusNormal,
			wantErr:     ErrState,
		},
		{
			name:        "already executed",
			status:      RequestStatusExecuted,
			submittedAt: now.Add(-2 * time.Hour),
			vaultStatus: StatusNormal,
			wantErr:     ErrState,
		},
		{
			name:        "already cancelled",
			status:      RequestStatusCancelled,
			submittedAt: now.Add(-2 * time.Hour),
			vaultStatus: StatusNormal,
			wantErr:     ErrState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deposit := &DepositRequest{Status: tt.status, SubmittedAt: tt.submittedAt}
			withdraw := &WithdrawRequest{Status: tt.status, SubmittedAt: tt.submittedAt}

			depositErr := deposit.Cancellable(tt.vaultStatus, now, cancelLock)
			withdrawErr := withdraw.Cancellable(tt.vaultStatus, now, cancelLock)

			if tt.wantErr != nil {
				assert.ErrorIs(t, depositErr, tt.wantErr)
				assert.ErrorIs(t, withdrawErr, tt.wantErr)
			} else {
				assert.NoError(t, depositErr)
				assert.NoError(t, withdrawErr)
			}
		})
	}
}
