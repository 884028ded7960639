package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"aqiwatch/internal/types"
)

// DefaultAlertStateKey identifies the single dispatcher row.
const DefaultAlertStateKey = "default"

// AlertStateRepository persists the alert dispatcher's last send time so the
// cooldown survives restarts and holds across every process sharing the row.
//
//	CREATE TABLE alert_state (
//	    id           TEXT PRIMARY KEY,
//	    last_sent_at TIMESTAMPTZ NOT NULL,
//	    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type AlertStateRepository struct {
	db  DBTX
	key string
}

// NewAlertStateRepository creates a repository for the dispatcher row key.
// An empty key selects DefaultAlertStateKey.
func NewAlertStateRepository(db DBTX, key string) *AlertStateRepository {
	if key == "" {
		key = DefaultAlertStateKey
	}
	return &AlertStateRepository{db: db, key: key}
}

// LoadLastSent returns the persisted send time, or nil if no alert has ever
// been dispatched.
func (r *AlertStateRepository) LoadLastSent(ctx context.Context) (*time.Time, error) {
	var ts time.Time
	err := r.db.QueryRow(ctx,
		`SELECT last_sent_at FROM alert_state WHERE id = $1`,
		r.key,
	).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load alert state", err)
	}
	ts = ts.UTC()
	return &ts, nil
}

// TryAcquire records now as the send time when no row exists or the stored
// time is at least cooldown before now. The conditional upsert is a single
// statement, so concurrent callers in different processes cannot both win.
// When the claim is not taken, the current holder is read back.
func (r *AlertStateRepository) TryAcquire(ctx context.Context, now time.Time, cooldown time.Duration) (bool, *time.Time, error) {
	at := pgTime(now)
	var prev *time.Time
	err := r.db.QueryRow(ctx,
		`WITH prev AS (
		     SELECT last_sent_at FROM alert_state WHERE id = $1
		 )
		 INSERT INTO alert_state (id, last_sent_at, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (id) DO UPDATE
		   SET last_sent_at = EXCLUDED.last_sent_at,
		       updated_at = NOW()
		   WHERE alert_state.last_sent_at <= $3
		 RETURNING (SELECT last_sent_at FROM prev)`,
		r.key,
		at,
		at.Add(-cooldown),
	).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		holder, lerr := r.LoadLastSent(ctx)
		if lerr != nil {
			return false, nil, lerr
		}
		return false, holder, nil
	}
	if err != nil {
		return false, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire alert state", err)
	}
	if prev != nil {
		p := prev.UTC()
		prev = &p
	}
	return true, prev, nil
}

// Release restores previous after a failed send, but only while the row
// still holds the claim made at claimed.
func (r *AlertStateRepository) Release(ctx context.Context, claimed time.Time, previous *time.Time) error {
	var err error
	if previous == nil {
		_, err = r.db.Exec(ctx,
			`DELETE FROM alert_state WHERE id = $1 AND last_sent_at = $2`,
			r.key,
			pgTime(claimed),
		)
	} else {
		_, err = r.db.Exec(ctx,
			`UPDATE alert_state
			    SET last_sent_at = $3,
			        updated_at = NOW()
			  WHERE id = $1 AND last_sent_at = $2`,
			r.key,
			pgTime(claimed),
			pgTime(*previous),
		)
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release alert state", err)
	}
	return nil
}

// pgTime matches the microsecond precision of TIMESTAMPTZ so a claim can be
// compared with what was stored.
func pgTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
