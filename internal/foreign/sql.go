package foreign

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"prism/internal/object"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// sqlStore owns the connections and open transactions of one runtime.
// Handles are plain integers; a handle with an open transaction routes
// query and exec through it.
type sqlStore struct {
	mu          sync.Mutex
	next        int64
	connections map[int64]*sql.DB
	txs         map[int64]*sql.Tx
}

func newSQLStore() *sqlStore {
	return &sqlStore{
		connections: make(map[int64]*sql.DB),
		txs:         make(map[int64]*sql.Tx),
	}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *sqlStore) add(db *sql.DB) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.connections[s.next] = db
	return s.next
}

func (s *sqlStore) target(id int64) (queryer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx, ok := s.txs[id]; ok {
		return tx, nil
	}
	if db, ok := s.connections[id]; ok {
		return db, nil
	}
	return nil, object.NewError(object.TypeMismatchError, "invalid connection handle %d", id)
}

func (s *sqlStore) sqlFunctions() map[string]*object.Native {
	return map[string]*object.Native{
		"connect":  s.fnSQLConnect(),
		"query":    s.fnSQLQuery(),
		"exec":     s.fnSQLExec(),
		"begin":    s.fnSQLBegin(),
		"commit":   s.fnSQLCommit(),
		"rollback": s.fnSQLRollback(),
		"close":    s.fnSQLClose(),
	}
}

// result gives a native's output the combined confidence of its arguments.
func result(ctx object.EvaluatorContext, payload object.Object, args []object.ConfidenceValue) object.ConfidenceValue {
	v := ctx.Originate(payload)
	return v.WithConfidence(object.CombineAnd(v.Confidence, object.CombineAll(args...)))
}

func (s *sqlStore) fnSQLConnect() *object.Native {
	return &object.Native{Arity: 2, Async: true, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		driver, err := unpackString(args[0], "driver")
		if err != nil {
			return args[0], err
		}
		dsn, err := unpackString(args[1], "dsn")
		if err != nil {
			return args[1], err
		}

		db, err := sql.Open(driver, dsn)
		if err != nil {
			return args[0], fmt.Errorf("failed to open connection: %w", err)
		}
		if err := db.PingContext(ctx.Context()); err != nil {
			db.Close()
			return args[0], fmt.Errorf("failed to ping database: %w", err)
		}

		id := s.add(db)
		slog.Debug("sql connection opened",
			slog.String("driver", driver),
			slog.Int64("handle", id))
		return result(ctx, &object.Integer{Value: id}, args), nil
	}}
}

func (s *sqlStore) fnSQLQuery() *object.Native {
	return &object.Native{Arity: -1, Async: true, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		target, query, params, err := s.statementArgs("query", args)
		if err != nil {
			return object.Certain(object.NIL), err
		}
		rows, err := target.QueryContext(ctx.Context(), query, params...)
		if err != nil {
			return object.Certain(object.NIL), fmt.Errorf("query failed: %w", err)
		}
		defer rows.Close()

		list, err := renderRows(rows)
		if err != nil {
			return object.Certain(object.NIL), fmt.Errorf("query failed: %w", err)
		}
		return result(ctx, list, args), nil
	}}
}

func (s *sqlStore) fnSQLExec() *object.Native {
	return &object.Native{Arity: -1, Async: true, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		target, query, params, err := s.statementArgs("exec", args)
		if err != nil {
			return object.Certain(object.NIL), err
		}
		res, err := target.ExecContext(ctx.Context(), query, params...)
		if err != nil {
			return object.Certain(object.NIL), fmt.Errorf("exec failed: %w", err)
		}

		affected, _ := res.RowsAffected()
		lastID, _ := res.LastInsertId()
		m := &object.Map{}
		m.Put(&object.String{Value: "rowsAffected"}, object.Certain(&object.Integer{Value: affected}))
		m.Put(&object.String{Value: "lastInsertId"}, object.Certain(&object.Integer{Value: lastID}))
		return result(ctx, m, args), nil
	}}
}

func (s *sqlStore) statementArgs(fnName string, args []object.ConfidenceValue) (queryer, string, []any, error) {
	if len(args) < 2 {
		return nil, "", nil, object.NewError(object.TypeMismatchError,
			"%s expects at least 2 arguments: connection, sql", fnName)
	}
	id, err := unpackInt(args[0], "connection")
	if err != nil {
		return nil, "", nil, err
	}
	query, err := unpackString(args[1], "sql")
	if err != nil {
		return nil, "", nil, err
	}
	target, err := s.target(id)
	if err != nil {
		return nil, "", nil, err
	}
	params := make([]any, 0, len(args)-2)
	for _, arg := range args[2:] {
		p, err := toParam(arg.Payload)
		if err != nil {
			return nil, "", nil, err
		}
		params = append(params, p)
	}
	return target, query, params, nil
}

func (s *sqlStore) fnSQLBegin() *object.Native {
	return &object.Native{Arity: 1, Async: true, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		id, err := unpackInt(args[0], "connection")
		if err != nil {
			return args[0], err
		}
		s.mu.Lock()
		db, ok := s.connections[id]
		_, open := s.txs[id]
		s.mu.Unlock()
		if !ok {
			return args[0], object.NewError(object.TypeMismatchError, "invalid connection handle %d", id)
		}
		if open {
			return args[0], errTxOpen(id)
		}

		// the transaction outlives this call, so it must not share its cancellation
		tx, err := db.BeginTx(context.WithoutCancel(ctx.Context()), nil)
		if err != nil {
			return args[0], fmt.Errorf("failed to begin transaction: %w", err)
		}

		s.mu.Lock()
		_, open = s.txs[id]
		_, live := s.connections[id]
		if !open && live {
			s.txs[id] = tx
		}
		s.mu.Unlock()
		if open || !live {
			tx.Rollback()
			if open {
				return args[0], errTxOpen(id)
			}
			return args[0], object.NewError(object.TypeMismatchError, "connection %d closed while beginning a transaction", id)
		}
		return result(ctx, &object.Integer{Value: id}, args), nil
	}}
}

func errTxOpen(id int64) error {
	return object.NewError(object.TypeMismatchError, "connection %d already has an open transaction", id)
}

func (s *sqlStore) fnSQLCommit() *object.Native {
	return &object.Native{Arity: 1, Async: true, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		return s.endTx(ctx, args, "commit", (*sql.Tx).Commit)
	}}
}

func (s *sqlStore) fnSQLRollback() *object.Native {
	return &object.Native{Arity: 1, Async: true, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		return s.endTx(ctx, args, "rollback", (*sql.Tx).Rollback)
	}}
}

func (s *sqlStore) endTx(ctx object.EvaluatorContext, args []object.ConfidenceValue, op string, end func(*sql.Tx) error) (object.ConfidenceValue, error) {
	id, err := unpackInt(args[0], "connection")
	if err != nil {
		return args[0], err
	}
	s.mu.Lock()
	tx, ok := s.txs[id]
	delete(s.txs, id)
	s.mu.Unlock()
	if !ok {
		return args[0], object.NewError(object.TypeMismatchError, "no open transaction on connection %d", id)
	}
	if err := end(tx); err != nil {
		return args[0], fmt.Errorf("failed to %s transaction: %w", op, err)
	}
	return result(ctx, &object.Integer{Value: id}, args), nil
}

func (s *sqlStore) fnSQLClose() *object.Native {
	return &object.Native{Arity: 1, Async: true, Fn: func(ctx object.EvaluatorContext, args ...object.ConfidenceValue) (object.ConfidenceValue, error) {
		id, err := unpackInt(args[0], "connection")
		if err != nil {
			return args[0], err
		}
		s.mu.Lock()
		tx, hasTx := s.txs[id]
		db, hasDB := s.connections[id]
		delete(s.txs, id)
		delete(s.connections, id)
		s.mu.Unlock()

		if hasTx {
			tx.Rollback()
		}
		if hasDB {
			if err := db.Close(); err != nil {
				return args[0], fmt.Errorf("failed to close connection: %w", err)
			}
		}
		return ctx.Originate(object.NIL), nil
	}}
}

// closeAll releases every connection, rolling back open transactions.
func (s *sqlStore) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tx := range s.txs {
		tx.Rollback()
		delete(s.txs, id)
	}
	for id, db := range s.connections {
		db.Close()
		delete(s.connections, id)
	}
}

func renderRows(rows *sql.Rows) (*object.List, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, _ := rows.ColumnTypes()

	list := &object.List{}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := &object.Map{}
		for i, col := range columns {
			var typeName string
			if i < len(types) {
				typeName = types[i].DatabaseTypeName()
			}
			row.Put(&object.String{Value: col}, object.Certain(mapValue(values[i], typeName)))
		}
		list.Elements = append(list.Elements, object.Certain(row))
	}
	return list, rows.Err()
}

func mapValue(v any, dbType string) object.Object {
	if v == nil {
		return object.NIL
	}
	switch x := v.(type) {
	case int64:
		return &object.Integer{Value: x}
	case float64:
		return &object.Float{Value: x}
	case []byte:
		switch dbType {
		case "BLOB", "LONGBLOB", "MEDIUMBLOB", "TINYBLOB", "BINARY", "VARBINARY", "BYTEA":
			list := &object.List{Elements: make([]object.ConfidenceValue, len(x))}
			for i, b := range x {
				list.Elements[i] = object.Certain(&object.Integer{Value: int64(b)})
			}
			return list
		}
		return &object.String{Value: string(x)}
	case string:
		return &object.String{Value: x}
	case bool:
		return object.NativeBool(x)
	case time.Time:
		return &object.String{Value: x.Format(time.RFC3339)}
	}
	return &object.String{Value: fmt.Sprintf("%v", v)}
}

func toParam(o object.Object) (any, error) {
	switch x := o.(type) {
	case *object.Nil:
		return nil, nil
	case *object.Integer:
		return x.Value, nil
	case *object.Float:
		return x.Value, nil
	case *object.String:
		return x.Value, nil
	case *object.Boolean:
		return x.Value, nil
	}
	return nil, object.NewError(object.TypeMismatchError, "cannot bind %s as a sql parameter", o.Type())
}
