package pgstore

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/trackfeed/internal/feed/dispatch"
	"nuha.dev/trackfeed/internal/metrics"
)

var columns = []string{"device_id", "latitude", "longitude", "altitude", "speed", "heading", "gps_time", "server_time"}

// Copier is the part of the pool the store writes through.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store batches positions and writes each batch with COPY. A batch is flushed when it is
// full or when its oldest position is older than MaxAgeFlush.
type Store struct {
	config *StoreConfig
	wlock  sync.Mutex
	wbuf   buffer
	flushc chan buffer
	done   chan struct{}
	stop   chan struct{}
	once    sync.Once
	started bool
	closed  bool
	db      Copier
	log    log.Logger
	table  string
	now    func() time.Time
}

type StoreConfig struct {
	BufSize     int
	TickerDur   time.Duration
	MaxAgeFlush time.Duration
}

type buffer struct {
	seq uint64
	t1  time.Time
	buf []record
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]record, 0, len)}
}

type record struct {
	device  string
	lat     float64
	lon     float64
	alt     *float64
	speed   *float64
	heading *float64
	gpst    time.Time
	srvt    time.Time
}

func NewStore(db Copier, table string, config *StoreConfig) *Store {
	o := &Store{}
	o.config = config
	o.table = table
	o.db = db
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	o.wbuf = new_buffer(0, o.config.BufSize)
	o.flushc = make(chan buffer, 4)
	o.done = make(chan struct{})
	o.stop = make(chan struct{})
	o.now = time.Now
	return o
}

// CreateTable creates the position table when missing.
func CreateTable(ctx context.Context, db *pgxpool.Pool, table string) error {
	_, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+pgx.Identifier{table}.Sanitize()+` (
		device_id   text NOT NULL,
		latitude    double precision NOT NULL,
		longitude   double precision NOT NULL,
		altitude    double precision,
		speed       double precision,
		heading     double precision,
		gps_time    timestamptz NOT NULL,
		server_time timestamptz NOT NULL
	)`)
	return err
}

func (st *Store) Run() {
	st.wlock.Lock()
	st.started = true
	st.wlock.Unlock()
	go st.timer_flusher()
	go st.handle()
}

func (st *Store) timer_flusher() {
	ticker := time.NewTicker(st.config.TickerDur)
	defer ticker.Stop()
	for {
		select {
		case <-st.stop:
			return
		case t := <-ticker.C:
			st.wlock.Lock()
			if len(st.wbuf.buf) != 0 && t.Sub(st.wbuf.t1) > st.config.MaxAgeFlush {
				st.flush()
			}
			st.wlock.Unlock()
		}
	}
}

func (st *Store) Put(ev dispatch.PositionEvent) {
	rec := record{device: ev.DeviceID, lat: ev.Lat, lon: ev.Lng, alt: ev.Altitude, speed: ev.Speed, heading: ev.Heading, gpst: ev.Time, srvt: st.now().UTC()}
	st.wlock.Lock()
	if st.closed {
		st.wlock.Unlock()
		return
	}
	if len(st.wbuf.buf) == 0 {
		st.wbuf.t1 = st.now()
	}
	st.wbuf.buf = append(st.wbuf.buf, rec)
	if len(st.wbuf.buf) >= st.config.BufSize {
		st.flush()
	}
	st.wlock.Unlock()
}

// flush hands the write buffer to the flusher. Caller holds wlock. When the flusher is
// behind the batch is dropped rather than stalling ingestion.
func (st *Store) flush() {
	next := st.wbuf.seq + 1
	select {
	case st.flushc <- st.wbuf:
	default:
		metrics.SinkErrors.WithLabelValues("pgstore").Inc()
		st.log.Error().Uint64("seq", st.wbuf.seq).Int("length", len(st.wbuf.buf)).Msg("flusher busy, batch dropped")
	}
	st.wbuf = new_buffer(next, st.config.BufSize)
}

func (st *Store) handle() {
	defer close(st.done)
	st.log.Info().Msg("starting flusher task")
	for buf := range st.flushc {
		st.write(buf)
	}
}

func (st *Store) write(buf buffer) {
	t1 := time.Now()
	n, err := st.db.CopyFrom(context.Background(),
		pgx.Identifier{st.table},
		columns,
		pgx.CopyFromSlice(len(buf.buf), func(i int) ([]interface{}, error) {
			d := buf.buf[i]
			return []interface{}{d.device, d.lat, d.lon, d.alt, d.speed, d.heading, d.gpst, d.srvt}, nil
		}))
	if err != nil {
		metrics.SinkErrors.WithLabelValues("pgstore").Inc()
		st.log.Error().Err(err).Uint64("seq", buf.seq).Msg("flush error")
		return
	}
	st.log.Debug().Str("action", "flush").Int64("length", n).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
}

// Close flushes what is buffered and waits for the flusher to finish.
func (st *Store) Close() {
	st.once.Do(func() {
		close(st.stop)
		st.wlock.Lock()
		st.closed = true
		if !st.started {
			st.wlock.Unlock()
			return
		}
		if len(st.wbuf.buf) != 0 {
			st.flushc <- st.wbuf
			st.wbuf = new_buffer(st.wbuf.seq+1, st.config.BufSize)
		}
		close(st.flushc)
		st.wlock.Unlock()
		<-st.done
	})
}
