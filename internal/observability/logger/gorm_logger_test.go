package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationFromSQL(t *testing.T) {
	cases := []struct {
		sql  string
		want string
	}{
		{sql: "SELECT id FROM events", want: "SELECT"},
		{sql: "  insert into charges (id) values (?)", want: "INSERT"},
		{sql: "(DELETE FROM transfer_charge_fees WHERE transfer_id = ?)", want: "DELETE"},
		{sql: "", want: "UNKNOWN"},
		{sql: "VACUUM", want: "UNKNOWN"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, operationFromSQL(tc.sql), tc.sql)
	}
}

func TestParamsFilterDropsValues(t *testing.T) {
	l := NewGormLogger(DefaultGormLoggerConfig())
	sql, params := l.ParamsFilter(context.Background(), "SELECT 1 WHERE card_last4 = ?", "4242")
	assert.Equal(t, "SELECT 1 WHERE card_last4 = ?", sql)
	assert.Nil(t, params)
}
