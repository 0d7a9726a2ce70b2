package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnreachable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"conn done", sql.ErrConnDone, true},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"closed pool", errors.New("sql: database is closed"), true},
		{"refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"no rows", sql.ErrNoRows, false},
		{"constraint", errors.New("UNIQUE constraint failed: users.email"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Unreachable(tt.err))
		})
	}
}

func TestConflictField(t *testing.T) {
	assert.Equal(t, FieldEmail, ConflictField("UNIQUE constraint failed: users.email"))
	assert.Equal(t, FieldPhone, ConflictField("UNIQUE constraint failed: users.phone_number"))
	assert.Equal(t, FieldGoogleID, ConflictField(`duplicate key value violates unique constraint "users_google_id_key"`))
	assert.Equal(t, "", ConflictField("something else"))
}

func TestDuplicateMessage(t *testing.T) {
	assert.Equal(t, "email already registered", DuplicateMessage(FieldEmail))
	assert.Equal(t, "Google account already registered", DuplicateMessage(FieldGoogleID))
	assert.Equal(t, "account already exists", DuplicateMessage(""))
}
