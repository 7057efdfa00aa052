package database

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRows serves a fixed column of strings.
type fakeRows struct {
	values []string
	pos    int
	err    error
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.closed || r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if len(dest) != 1 {
		return fmt.Errorf("scan: %d destinations", len(dest))
	}
	p, ok := dest[0].(*string)
	if !ok {
		return fmt.Errorf("scan: unexpected destination %T", dest[0])
	}
	*p = r.values[r.pos-1]
	return nil
}

func (r *fakeRows) Values() ([]any, error) {
	return []any{r.values[r.pos-1]}, nil
}

type fakeQuerier struct {
	rows *fakeRows
	err  error
	sql  string
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.sql = sql
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func TestRelayStore_PreferredRelays(t *testing.T) {
	rows := &fakeRows{values: []string{
		"wss://a.example",
		" wss://b.example ",
		"",
		"wss://a.example",
		"wss://c.example",
	}}
	q := &fakeQuerier{rows: rows}
	store := &RelayStore{db: q}

	got, err := store.PreferredRelays(context.Background())
	if err != nil {
		t.Fatalf("PreferredRelays failed: %v", err)
	}

	want := []string{"wss://a.example", "wss://b.example", "wss://c.example"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PreferredRelays() = %v, want %v", got, want)
	}
	if q.sql != preferredRelaysQuery {
		t.Errorf("query = %q, want preferred relays query", q.sql)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

func TestRelayStore_PreferredRelaysEmpty(t *testing.T) {
	store := &RelayStore{db: &fakeQuerier{rows: &fakeRows{}}}

	got, err := store.PreferredRelays(context.Background())
	if err != nil {
		t.Fatalf("PreferredRelays failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("PreferredRelays() = %v, want empty", got)
	}
}

func TestRelayStore_PreferredRelaysErrors(t *testing.T) {
	queryErr := errors.New("connection refused")
	rowsErr := errors.New("conn reset")

	tests := []struct {
		name string
		q    *fakeQuerier
		want error
	}{
		{"query", &fakeQuerier{err: queryErr}, queryErr},
		{"rows", &fakeQuerier{rows: &fakeRows{values: []string{"wss://a"}, err: rowsErr}}, rowsErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &RelayStore{db: tt.q}
			_, err := store.PreferredRelays(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("PreferredRelays() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRelayStore_NilPool(t *testing.T) {
	store := &RelayStore{db: &fakeQuerier{rows: &fakeRows{}}}

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v, want nil without a pool", err)
	}
	store.Close()
}
