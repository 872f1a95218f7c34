package db

import (
	"context"
	"time"

	"github.com/juju/clock"
	log "github.com/sirupsen/logrus"

	"rexml/models"
)

// Tidy removes frozen items created before the given time. Items still in
// the unknown state are kept so the poller can settle them.
func (db *DB) Tidy(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	del := db.flavor.NewDeleteBuilder()
	del.DeleteFrom("posts").Where(
		del.LessThan("created", before.Unix()),
		del.NotEqual("threshold_state", string(models.StateUnknown)),
	)
	query, args := del.Build()

	log.WithFields(log.Fields{
		"sql":    query,
		"before": before.Format(time.RFC3339),
	}).Info("Tidying database")

	res, err := db.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RunTidy tidies the database immediately and then on every interval until ctx is done
func (db *DB) RunTidy(ctx context.Context, clk clock.Clock, interval, retention time.Duration) {
	for {
		removed, err := db.Tidy(ctx, clk.Now().Add(-retention))
		if err != nil {
			log.Errorf("Error tidying database: %v", err)
		} else {
			log.WithField("removed", removed).Info("Tidied database")
		}

		select {
		case <-ctx.Done():
			return
		case <-clk.After(interval):
		}
	}
}
