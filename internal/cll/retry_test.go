package cll_test

import (
	"testing"

	"github.com/leapstack-labs/metalineage/internal/cll"
	"github.com/leapstack-labs/metalineage/pkg/core"
	"github.com/leapstack-labs/metalineage/pkg/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepare(t *testing.T) {
	catalog := cll.NewCatalog("db", "sch")
	catalog.Add("db.sch.t1", []string{"id", "a"})
	catalog.Add("db.sch.t2", []string{"id", "b"})

	tests := []struct {
		name        string
		sql         string
		maxAttempts int
		wantState   cll.State
		wantKind    core.ErrorKind
		attempts    int
		degraded    bool
	}{
		{
			name:      "qualifies first time",
			sql:       "select t1.a, b from t1 join t2 on t1.id = t2.id",
			wantState: cll.StateSuccess,
			attempts:  1,
		},
		{
			name:      "synthesizes unknown table",
			sql:       "select x.c, a from t1",
			wantState: cll.StateSuccess,
			attempts:  2,
		},
		{
			name:      "degrades to CTEs on ambiguity",
			sql:       "with c as (select a from t1) select id from t1, t2",
			wantState: cll.StateSuccess,
			attempts:  2,
			degraded:  true,
		},
		{
			name:      "fails when CTEs cannot qualify",
			sql:       "with c as (select id from t1, t2) select 1",
			wantState: cll.StateFailed,
			wantKind:  core.ErrorKindOptimize,
			attempts:  2,
		},
		{
			name:        "attempt budget",
			sql:         "select x.c, y.d, a from t1",
			maxAttempts: 2,
			wantState:   cll.StateFailed,
			wantKind:    core.ErrorKindOptimize,
			attempts:    2,
		},
		{
			name:      "parse failure",
			sql:       "select a from t1 where (",
			wantState: cll.StateFailed,
			wantKind:  core.ErrorKindParse,
			attempts:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := cll.Prepare(tt.sql, dialect.DuckDB, catalog, "db.sch.model", tt.maxAttempts)
			assert.Equal(t, tt.wantState, out.State, "state %s", out.State)
			assert.Equal(t, tt.attempts, out.Attempts)
			if tt.wantState == cll.StateFailed {
				require.NotNil(t, out.Error)
				assert.Equal(t, tt.wantKind, out.Error.Kind)
				assert.Nil(t, out.Qualified)
				return
			}
			require.NotNil(t, out.Qualified)
			assert.Equal(t, tt.degraded, out.Degraded)
			if tt.degraded {
				require.NotNil(t, out.Cause)
				assert.Equal(t, core.ErrorKindOptimize, out.Cause.Kind)
			} else {
				assert.Nil(t, out.Cause)
			}
		})
	}
}

func TestPrepareResolvesWithoutRetry(t *testing.T) {
	catalog := cll.NewCatalog("db", "sch")
	catalog.Add("db.sch.t1", []string{"id"})
	catalog.Add("db.sch.t2", []string{"id"})

	for _, sql := range []string{
		"select t1.id from t1 join t2 using (id)",
		"select id from t1 join t2 using (id)",
		"select current_date, t1.id from t1, t2 where t1.id = t2.id",
		"select id + 1 as next, next * 2 as twice from t1 order by twice",
	} {
		out := cll.Prepare(sql, dialect.DuckDB, catalog, "db.sch.model", 1)
		assert.Equal(t, cll.StateSuccess, out.State, "%s: %+v", sql, out.Error)
		assert.False(t, out.Degraded, sql)
	}
}
