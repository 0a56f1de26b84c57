package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "postgres unique", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "postgres wrapped", err: fmt.Errorf("error creating purchase record: %w", &pgconn.PgError{Code: "23505"}), want: true},
		{name: "postgres check", err: &pgconn.PgError{Code: "23514"}, want: false},
		{name: "translated", err: gorm.ErrDuplicatedKey, want: true},
		{name: "translated wrapped", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "sqlite", err: errors.New("constraint failed: UNIQUE constraint failed: purchase_records.lead_id, purchase_records.job_role (2067)"), want: true},
		{name: "not found", err: gorm.ErrRecordNotFound, want: false},
		{name: "other", err: errors.New("connection reset by peer"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}
