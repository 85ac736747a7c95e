package pgstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/trackfeed/internal/feed/decoder"
	"nuha.dev/trackfeed/internal/feed/dispatch"
)

type fakeCopier struct {
	mu     sync.Mutex
	table  pgx.Identifier
	cols   []string
	rows   [][]interface{}
	copies int
	err    error
}

func (f *fakeCopier) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	if f.err != nil {
		return 0, f.err
	}
	f.table = tableName
	f.cols = columnNames
	var n int64
	for rowSrc.Next() {
		v, err := rowSrc.Values()
		if err != nil {
			return n, err
		}
		f.rows = append(f.rows, v)
		n++
	}
	return n, nil
}

func (f *fakeCopier) Rows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func event(dev string, lat float64) dispatch.PositionEvent {
	return dispatch.PositionEvent{Type: "marker", DeviceID: dev, Lat: lat, Lng: lat + 1, Speed: decoder.Float(12), Time: time.Unix(1377818379, 0).UTC()}
}

func TestFlushWhenBufferFull(t *testing.T) {
	db := &fakeCopier{}
	st := NewStore(db, "position", &StoreConfig{BufSize: 2, TickerDur: time.Hour, MaxAgeFlush: time.Hour})
	st.Run()
	defer st.Close()

	st.Put(event("a", 1))
	assert.Equal(t, 0, db.Rows())
	st.Put(event("b", 2))
	require.Eventually(t, func() bool { return db.Rows() == 2 }, time.Second, 5*time.Millisecond)

	db.mu.Lock()
	defer db.mu.Unlock()
	assert.Equal(t, pgx.Identifier{"position"}, db.table)
	assert.Equal(t, columns, db.cols)
	row := db.rows[0]
	assert.Equal(t, "a", row[0])
	assert.Equal(t, 1.0, row[1])
	assert.Equal(t, 2.0, row[2])
	assert.Nil(t, row[3].(*float64))
	assert.Equal(t, 12.0, *row[4].(*float64))
	assert.Equal(t, time.Unix(1377818379, 0).UTC(), row[6])
}

func TestFlushByAge(t *testing.T) {
	db := &fakeCopier{}
	st := NewStore(db, "position", &StoreConfig{BufSize: 100, TickerDur: 10 * time.Millisecond, MaxAgeFlush: 20 * time.Millisecond})
	st.Run()
	defer st.Close()

	st.Put(event("a", 1))
	require.Eventually(t, func() bool { return db.Rows() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCloseFlushesRemainder(t *testing.T) {
	db := &fakeCopier{}
	st := NewStore(db, "position", &StoreConfig{BufSize: 100, TickerDur: time.Hour, MaxAgeFlush: time.Hour})
	st.Run()
	st.Put(event("a", 1))
	st.Put(event("b", 2))
	st.Close()
	st.Close()
	assert.Equal(t, 2, db.Rows())

	st.Put(event("c", 3))
	assert.Equal(t, 2, db.Rows())
}

func TestCopyErrorIsContained(t *testing.T) {
	db := &fakeCopier{err: errors.New("connection refused")}
	st := NewStore(db, "position", &StoreConfig{BufSize: 1, TickerDur: time.Hour, MaxAgeFlush: time.Hour})
	st.Run()
	st.Put(event("a", 1))
	st.Close()
	db.mu.Lock()
	defer db.mu.Unlock()
	assert.Equal(t, 1, db.copies)
	assert.Empty(t, db.rows)
}
