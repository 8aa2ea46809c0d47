package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"intent-settlement/internal/ledger"
)

// Ledger 是基于 MySQL 的 ledger.Book 实现。金额以十进制字符串存储，
// 以容纳完整的 uint256 范围。
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

var _ ledger.Book = (*Ledger)(nil)

// NewLedger 建立连接、执行表结构迁移并返回账本。
func NewLedger(ctx context.Context, cfg Config) (*Ledger, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db, now: time.Now}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

const (
	ensureBalanceSQL  = `INSERT IGNORE INTO balances (asset, owner, amount, updated_at) VALUES (?, ?, '0', ?)`
	lockBalancesSQL   = `SELECT owner, amount FROM balances WHERE asset = ? AND owner IN (?, ?) ORDER BY owner FOR UPDATE`
	updateBalanceSQL  = `UPDATE balances SET amount = ?, updated_at = ? WHERE asset = ? AND owner = ?`
	insertTransferSQL = `INSERT INTO transfers (asset, from_addr, to_addr, amount, created_at) VALUES (?, ?, ?, ?, ?)`
	selectBalanceSQL  = `SELECT amount FROM balances WHERE asset = ? AND owner = ?`
)

// Transfer 在单个事务内完成两个账户之间的转账。
func (l *Ledger) Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must be non-negative")
	}
	return l.withTx(ctx, func(tx *sql.Tx, now int64) error {
		if _, err := tx.ExecContext(ctx, ensureBalanceSQL, asset.Hex(), to.Hex(), now); err != nil {
			return fmt.Errorf("ensure balance row: %w", err)
		}
		balances, err := lockBalances(ctx, tx, asset, from, to)
		if err != nil {
			return err
		}
		src := balances[from]
		if src.Cmp(amount) < 0 {
			return ledger.ErrInsufficientBalance.With(fmt.Errorf("%s holds %s of %s, needs %s", from.Hex(), src, asset.Hex(), amount))
		}
		if from != to {
			if err := setBalance(ctx, tx, asset, from, new(big.Int).Sub(src, amount), now); err != nil {
				return err
			}
			if err := setBalance(ctx, tx, asset, to, new(big.Int).Add(balances[to], amount), now); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, insertTransferSQL, asset.Hex(), from.Hex(), to.Hex(), amount.String(), now); err != nil {
			return fmt.Errorf("log transfer: %w", err)
		}
		return nil
	})
}

// Credit 为 owner 增发余额，并记录为来自零地址的转账。
func (l *Ledger) Credit(ctx context.Context, asset, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("credit amount must be non-negative")
	}
	return l.withTx(ctx, func(tx *sql.Tx, now int64) error {
		if _, err := tx.ExecContext(ctx, ensureBalanceSQL, asset.Hex(), owner.Hex(), now); err != nil {
			return fmt.Errorf("ensure balance row: %w", err)
		}
		balances, err := lockBalances(ctx, tx, asset, owner, owner)
		if err != nil {
			return err
		}
		if err := setBalance(ctx, tx, asset, owner, new(big.Int).Add(balances[owner], amount), now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertTransferSQL, asset.Hex(), common.Address{}.Hex(), owner.Hex(), amount.String(), now); err != nil {
			return fmt.Errorf("log credit: %w", err)
		}
		return nil
	})
}

func (l *Ledger) BalanceOf(ctx context.Context, asset, owner common.Address) (*big.Int, error) {
	var raw string
	err := l.db.QueryRowContext(ctx, selectBalanceSQL, asset.Hex(), owner.Hex()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query balance: %w", err)
	}
	return parseAmount(raw)
}

func (l *Ledger) withTx(ctx context.Context, fn func(tx *sql.Tx, now int64) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	if err := fn(tx, l.now().Unix()); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

// lockBalances 读取并行锁定双方余额，不存在的行视为零。
func lockBalances(ctx context.Context, tx *sql.Tx, asset, a, b common.Address) (map[common.Address]*big.Int, error) {
	rows, err := tx.QueryContext(ctx, lockBalancesSQL, asset.Hex(), a.Hex(), b.Hex())
	if err != nil {
		return nil, fmt.Errorf("lock balances: %w", err)
	}
	defer rows.Close()

	out := map[common.Address]*big.Int{a: new(big.Int), b: new(big.Int)}
	for rows.Next() {
		var owner, raw string
		if err := rows.Scan(&owner, &raw); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		v, err := parseAmount(raw)
		if err != nil {
			return nil, err
		}
		out[common.HexToAddress(owner)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return out, nil
}

func setBalance(ctx context.Context, tx *sql.Tx, asset, owner common.Address, v *big.Int, now int64) error {
	if _, err := tx.ExecContext(ctx, updateBalanceSQL, v.String(), now, asset.Hex(), owner.Hex()); err != nil {
		return fmt.Errorf("update balance of %s: %w", owner.Hex(), err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt balance %q", raw)
	}
	return v, nil
}
