// Package storage is the SQLite implementation of the store ports.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"dividi/internal/core"
	"dividi/internal/store"
)

// timeLayout is fixed width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLiteRepository struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteRepository)(nil)

// DSN enables foreign keys and a busy timeout on every pooled connection.
func DSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u store.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, formatTime(u.CreatedAt))
	if err != nil {
		return mapErr(fmt.Sprintf("create user %q", u.Username), err)
	}
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (store.User, error) {
	return r.getUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id)
}

func (r *SQLiteRepository) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	return r.getUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)
}

func (r *SQLiteRepository) getUser(ctx context.Context, query, arg string) (store.User, error) {
	var (
		u       store.User
		created string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash, &created)
	if err != nil {
		return store.User{}, mapErr(fmt.Sprintf("get user %q", arg), err)
	}
	u.CreatedAt = parseTime(created)
	return u, nil
}

func (r *SQLiteRepository) CreateGroup(ctx context.Context, g store.Group) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO expense_groups (id, name, invite_code, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.InviteCode, g.CreatedBy, formatTime(g.CreatedAt))
	if err != nil {
		return mapErr("create group "+g.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteGroup(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expense_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("group %s: %w", id, store.ErrNotFound)
	}
	return nil
}

const groupColumns = `g.id, g.name, g.invite_code, g.created_by, g.created_at`

func scanGroup(row interface{ Scan(...any) error }) (store.Group, error) {
	var (
		g       store.Group
		created string
	)
	if err := row.Scan(&g.ID, &g.Name, &g.InviteCode, &g.CreatedBy, &created); err != nil {
		return store.Group{}, err
	}
	g.CreatedAt = parseTime(created)
	return g, nil
}

func (r *SQLiteRepository) GetGroup(ctx context.Context, id string) (store.Group, error) {
	return r.getGroup(ctx, r.db, id)
}

func (r *SQLiteRepository) getGroup(ctx context.Context, q querier, id string) (store.Group, error) {
	g, err := scanGroup(q.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM expense_groups g WHERE g.id = ?`, id))
	if err != nil {
		return store.Group{}, mapErr("get group "+id, err)
	}
	return g, nil
}

func (r *SQLiteRepository) GetGroupByInviteCode(ctx context.Context, code string) (store.Group, error) {
	g, err := scanGroup(r.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM expense_groups g WHERE g.invite_code = ?`, code))
	if err != nil {
		return store.Group{}, mapErr(fmt.Sprintf("get invite %q", code), err)
	}
	return g, nil
}

func (r *SQLiteRepository) AddMember(ctx context.Context, groupID, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)`,
		groupID, userID, formatTime(at))
	if err != nil {
		return mapErr(fmt.Sprintf("add member %s to %s", userID, groupID), err)
	}
	return nil
}

func (r *SQLiteRepository) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) ListMembers(ctx context.Context, groupID string) ([]store.GroupMember, error) {
	return listMembers(ctx, r.db, groupID)
}

func listMembers(ctx context.Context, q querier, groupID string) ([]store.GroupMember, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT m.user_id, COALESCE(u.username, ''), m.joined_at
		FROM group_members m LEFT JOIN users u ON u.id = m.user_id
		WHERE m.group_id = ?
		ORDER BY m.joined_at, m.user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []store.GroupMember
	for rows.Next() {
		var (
			m      store.GroupMember
			joined string
		)
		if err := rows.Scan(&m.UserID, &m.Username, &joined); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.JoinedAt = parseTime(joined)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListGroupsForUser(ctx context.Context, userID string) ([]store.Group, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+groupColumns+`
		FROM expense_groups g JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ?
		ORDER BY g.created_at, g.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []store.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) error {
	if err := e.ValidateRecord(); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO expenses (id, group_id, description, date, amount_cents, currency, payer_id,
				split_kind, settled, settled_at, settled_by, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.GroupID, e.Description, formatTime(e.Date), e.Amount.Cents, string(e.Currency),
			string(e.Payer), e.Split.String(), e.Settled, nullTime(e.SettledAt), nullString(string(e.SettledBy)),
			string(e.CreatedBy), formatTime(e.CreatedAt))
		if err != nil {
			return mapErr("create expense "+e.ID, err)
		}
		for i, p := range e.Participants {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO expense_participants (expense_id, user_id, position) VALUES (?, ?, ?)`,
				e.ID, string(p), i); err != nil {
				return mapErr("add participant", err)
			}
		}
		for _, m := range e.Split.Members() {
			p, _ := e.Split.Percent(m)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO expense_splits (expense_id, user_id, percent) VALUES (?, ?, ?)`,
				e.ID, string(m), p.String()); err != nil {
				return mapErr("add split", err)
			}
		}
		return nil
	})
}

const expenseColumns = `id, group_id, description, date, amount_cents, currency, payer_id, split_kind,
	settled, settled_at, settled_by, created_by, created_at`

type expenseRow struct {
	e         core.Expense
	splitKind string
}

func scanExpense(row interface{ Scan(...any) error }) (expenseRow, error) {
	var (
		er                         expenseRow
		date, created              string
		settledAt, settledBy       sql.NullString
		currency, payer, createdBy string
	)
	err := row.Scan(&er.e.ID, &er.e.GroupID, &er.e.Description, &date, &er.e.Amount.Cents, &currency, &payer,
		&er.splitKind, &er.e.Settled, &settledAt, &settledBy, &createdBy, &created)
	if err != nil {
		return expenseRow{}, err
	}
	er.e.Date = parseTime(date)
	er.e.CreatedAt = parseTime(created)
	er.e.Currency = core.Currency(currency)
	er.e.Payer = core.Member(payer)
	er.e.CreatedBy = core.Member(createdBy)
	if settledAt.Valid {
		er.e.SettledAt = parseTime(settledAt.String)
	}
	er.e.SettledBy = core.Member(settledBy.String)
	return er, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	var out core.Expense
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		er, err := scanExpense(tx.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id))
		if err != nil {
			return mapErr("get expense "+id, err)
		}
		list, err := hydrate(ctx, tx, []expenseRow{er}, `expense_id = ?`, id)
		if err != nil {
			return err
		}
		out = list[0]
		return nil
	})
	return out, err
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, groupID string) ([]core.Expense, error) {
	var out []core.Expense
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = listExpenses(ctx, tx, groupID)
		return err
	})
	return out, err
}

func listExpenses(ctx context.Context, q querier, groupID string) ([]core.Expense, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+expenseColumns+` FROM expenses
		WHERE group_id = ? ORDER BY date DESC, created_at DESC, id DESC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	var ers []expenseRow
	for rows.Next() {
		er, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		ers = append(ers, er)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hydrate(ctx, q, ers,
		`expense_id IN (SELECT id FROM expenses WHERE group_id = ?)`, groupID)
}

// hydrate loads participants and split percentages for ers with two queries
// filtered by where.
func hydrate(ctx context.Context, q querier, ers []expenseRow, where string, arg any) ([]core.Expense, error) {
	participants := make(map[string][]core.Member, len(ers))
	rows, err := q.QueryContext(ctx,
		`SELECT expense_id, user_id FROM expense_participants WHERE `+where+` ORDER BY expense_id, position`, arg)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	for rows.Next() {
		var id, user string
		if err := rows.Scan(&id, &user); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants[id] = append(participants[id], core.Member(user))
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	splits := make(map[string]map[core.Member]decimal.Decimal)
	rows, err = q.QueryContext(ctx, `SELECT expense_id, user_id, percent FROM expense_splits WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("list splits: %w", err)
	}
	for rows.Next() {
		var id, user, pct string
		if err := rows.Scan(&id, &user, &pct); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan split: %w", err)
		}
		d, err := decimal.NewFromString(pct)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("expense %s: bad percent %q: %w", id, pct, err)
		}
		if splits[id] == nil {
			splits[id] = make(map[core.Member]decimal.Decimal)
		}
		splits[id][core.Member(user)] = d
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	out := make([]core.Expense, len(ers))
	for i, er := range ers {
		e := er.e
		e.Participants = participants[e.ID]
		if er.splitKind == "custom" {
			e.Split = core.CustomSplit(splits[e.ID])
		} else {
			e.Split = core.EqualSplit()
		}
		out[i] = e
	}
	return out, nil
}

func (r *SQLiteRepository) SetSettled(ctx context.Context, groupID string, ids []string, settled bool, by core.Member, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+5)
	if settled {
		args = append(args, true, formatTime(at), string(by))
	} else {
		args = append(args, false, nil, nil)
	}
	args = append(args, groupID, settled)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE expenses SET settled = ?, settled_at = ?, settled_by = ?
		WHERE group_id = ? AND settled <> ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("set settled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("set settled: %w", err)
	}
	return int(n), nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, groupID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ? AND group_id = ?`, id, groupID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("expense %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) AddNotification(ctx context.Context, n store.Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, message, read, created_at) VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Message, n.Read, formatTime(n.CreatedAt))
	if err != nil {
		return mapErr("add notification", err)
	}
	return nil
}

func (r *SQLiteRepository) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]store.Notification, error) {
	query := `SELECT id, user_id, message, read, created_at FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []store.Notification
	for rows.Next() {
		var (
			n       store.Notification
			created string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Read, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt = parseTime(created)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) MarkAllRead(ctx context.Context, userID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Snapshot reads members and expenses inside one transaction.
func (r *SQLiteRepository) Snapshot(ctx context.Context, groupID string) (core.Snapshot, error) {
	var snap core.Snapshot
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.getGroup(ctx, tx, groupID); err != nil {
			return err
		}
		members, err := listMembers(ctx, tx, groupID)
		if err != nil {
			return err
		}
		expenses, err := listExpenses(ctx, tx, groupID)
		if err != nil {
			return err
		}
		snap = core.Snapshot{GroupID: groupID, Members: store.MemberIDs(members), Expenses: expenses}
		return nil
	})
	return snap, err
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// mapErr translates sql and sqlite errors into store sentinels.
func mapErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w", op, store.ErrConflict)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%s: %w", op, store.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
