package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intent-settlement/internal/ledger"
)

var (
	asset = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newTestLedger(t *testing.T, steps ...step) (*Ledger, *script) {
	t.Helper()
	db, s := openScript(t, steps)
	t.Cleanup(func() { db.Close() })
	return &Ledger{db: db, now: func() time.Time { return time.Unix(1_700_000_000, 0) }}, s
}

func TestLedgerTransfer(t *testing.T) {
	t.Parallel()

	l, s := newTestLedger(t,
		begin(),
		exec(ensureBalanceSQL, asset.Hex(), bob.Hex(), int64(1_700_000_000)),
		query(lockBalancesSQL, []string{"owner", "amount"},
			[]driver.Value{alice.Hex(), "100"},
			[]driver.Value{bob.Hex(), "5"},
		),
		exec(updateBalanceSQL, "60", int64(1_700_000_000), asset.Hex(), alice.Hex()),
		exec(updateBalanceSQL, "45", int64(1_700_000_000), asset.Hex(), bob.Hex()),
		exec(insertTransferSQL, asset.Hex(), alice.Hex(), bob.Hex(), "40", int64(1_700_000_000)),
		commit(),
	)
	require.NoError(t, l.Transfer(context.Background(), asset, alice, bob, big.NewInt(40)))
	s.done(t)
}

func TestLedgerTransferInsufficientBalanceRollsBack(t *testing.T) {
	t.Parallel()

	l, s := newTestLedger(t,
		begin(),
		exec(ensureBalanceSQL),
		query(lockBalancesSQL, []string{"owner", "amount"},
			[]driver.Value{alice.Hex(), "10"},
		),
		rollback(),
	)
	err := l.Transfer(context.Background(), asset, alice, bob, big.NewInt(11))
	assert.True(t, errors.Is(err, ledger.ErrInsufficientBalance))
	s.done(t)
}

func TestLedgerTransferExecFailureRollsBack(t *testing.T) {
	t.Parallel()

	l, s := newTestLedger(t,
		begin(),
		exec(ensureBalanceSQL).fails(errors.New("deadlock found")),
		rollback(),
	)
	err := l.Transfer(context.Background(), asset, alice, bob, big.NewInt(1))
	assert.ErrorContains(t, err, "deadlock found")
	s.done(t)
}

func TestLedgerCredit(t *testing.T) {
	t.Parallel()

	l, s := newTestLedger(t,
		begin(),
		exec(ensureBalanceSQL),
		query(lockBalancesSQL, []string{"owner", "amount"}),
		exec(updateBalanceSQL, "115792089237316195423570985008687907853269984665640564039457584007913129639935"),
		exec(insertTransferSQL, asset.Hex(), common.Address{}.Hex(), alice.Hex()),
		commit(),
	)
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	require.NoError(t, l.Credit(context.Background(), asset, alice, maxUint256))
	s.done(t)
}

func TestLedgerBalanceOf(t *testing.T) {
	t.Parallel()

	l, s := newTestLedger(t,
		query(selectBalanceSQL, []string{"amount"}, []driver.Value{"123456789012345678901234567890"}),
		query(selectBalanceSQL, []string{"amount"}),
	)
	v, err := l.BalanceOf(context.Background(), asset, alice)
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", v.String())

	v, err = l.BalanceOf(context.Background(), asset, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Int64())
	s.done(t)
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles(migrationsFS(), migrationDir)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "0001", files[0].version)
	require.Len(t, files[0].statements, 2)

	steps := []step{
		exec(createMigrationsTableSQL),
		query(`SELECT version FROM schema_migrations`, []string{"version"}),
		begin(),
	}
	for _, stmt := range files[0].statements {
		steps = append(steps, exec(stmt))
	}
	steps = append(steps, exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, "0001"), commit())

	db, s := openScript(t, steps)
	defer db.Close()
	require.NoError(t, runMigrations(context.Background(), db))
	s.done(t)
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()

	db, s := openScript(t, []step{
		exec(createMigrationsTableSQL),
		query(`SELECT version FROM schema_migrations`, []string{"version"}, []driver.Value{"0001"}),
	})
	defer db.Close()
	require.NoError(t, runMigrations(context.Background(), db))
	s.done(t)
}

func TestSplitSQLStatements(t *testing.T) {
	got := splitSQLStatements("CREATE TABLE a (x INT);\n\n  ;CREATE TABLE b (y INT);")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE TABLE b (y INT)"}, got)
	assert.Equal(t, "0002", parseMigrationVersion("0002_add_index.sql"))
	assert.Equal(t, "init", parseMigrationVersion("init.sql"))
}

// A scripted database/sql driver. Each connection call must match the next
// step; SQL is compared with whitespace collapsed and args, when given, as a
// prefix of the actual args.

type stepKind string

const (
	stepExec     stepKind = "exec"
	stepQuery    stepKind = "query"
	stepBegin    stepKind = "begin"
	stepCommit   stepKind = "commit"
	stepRollback stepKind = "rollback"
)

type step struct {
	kind    stepKind
	sql     string
	args    []driver.Value
	columns []string
	rows    [][]driver.Value
	err     error
}

func (s step) fails(err error) step {
	s.err = err
	return s
}

func exec(sql string, args ...driver.Value) step {
	return step{kind: stepExec, sql: sql, args: args}
}

func query(sql string, columns []string, rows ...[]driver.Value) step {
	return step{kind: stepQuery, sql: sql, columns: columns, rows: rows}
}

func begin() step    { return step{kind: stepBegin} }
func commit() step   { return step{kind: stepCommit} }
func rollback() step { return step{kind: stepRollback} }

type script struct {
	mu    sync.Mutex
	steps []step
	pos   int
}

func (s *script) next(kind stepKind, sql string, args []driver.NamedValue) (step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.steps) {
		return step{}, fmt.Errorf("unexpected %s %q", kind, sql)
	}
	want := s.steps[s.pos]
	s.pos++
	if want.kind != kind {
		return step{}, fmt.Errorf("step %d: want %s, got %s %q", s.pos-1, want.kind, kind, sql)
	}
	if want.sql != "" && squash(want.sql) != squash(sql) {
		return step{}, fmt.Errorf("step %d: want %q, got %q", s.pos-1, squash(want.sql), squash(sql))
	}
	for i, a := range want.args {
		if i >= len(args) || fmt.Sprint(args[i].Value) != fmt.Sprint(a) {
			return step{}, fmt.Errorf("step %d: arg %d mismatch, want %v in %v", s.pos-1, i, a, args)
		}
	}
	return want, nil
}

func (s *script) done(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, len(s.steps), s.pos, "unconsumed steps")
}

func squash(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

var scriptSeq atomic.Int32

func openScript(t *testing.T, steps []step) (*sql.DB, *script) {
	t.Helper()
	s := &script{steps: steps}
	name := fmt.Sprintf("scripted-mysql-%d", scriptSeq.Add(1))
	sql.Register(name, scriptDriver{s})
	db, err := sql.Open(name, "")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	return db, s
}

type scriptDriver struct{ s *script }

func (d scriptDriver) Open(string) (driver.Conn, error) { return scriptConn(d), nil }

type scriptConn struct{ s *script }

func (c scriptConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c scriptConn) Close() error { return nil }

func (c scriptConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c scriptConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	st, err := c.s.next(stepBegin, "", nil)
	if err != nil {
		return nil, err
	}
	return scriptTx(c), st.err
}

func (c scriptConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	st, err := c.s.next(stepExec, query, args)
	if err != nil {
		return nil, err
	}
	if st.err != nil {
		return nil, st.err
	}
	return driver.RowsAffected(1), nil
}

func (c scriptConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	st, err := c.s.next(stepQuery, query, args)
	if err != nil {
		return nil, err
	}
	if st.err != nil {
		return nil, st.err
	}
	return &scriptRows{columns: st.columns, rows: st.rows}, nil
}

type scriptTx struct{ s *script }

func (tx scriptTx) Commit() error {
	st, err := tx.s.next(stepCommit, "", nil)
	if err != nil {
		return err
	}
	return st.err
}

func (tx scriptTx) Rollback() error {
	st, err := tx.s.next(stepRollback, "", nil)
	if err != nil {
		return err
	}
	return st.err
}

type scriptRows struct {
	columns []string
	rows    [][]driver.Value
	pos     int
}

func (r *scriptRows) Columns() []string { return r.columns }
func (r *scriptRows) Close() error      { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}
