package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	partitionPrefix = "agv_positions_p"
	partitionLayout = "20060102"
)

// PartitionName returns the daily partition holding ts (UTC).
func PartitionName(ts time.Time) string {
	return partitionPrefix + ts.UTC().Format(partitionLayout)
}

// partitionDay parses a partition name back to its UTC day.
func partitionDay(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, partitionPrefix) {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(partitionLayout, strings.TrimPrefix(name, partitionPrefix), time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// EnsurePartitions creates the daily partitions covering [from, from+days).
func (db *DB) EnsurePartitions(ctx context.Context, from time.Time, days int) error {
	day := from.UTC().Truncate(24 * time.Hour)
	for i := 0; i < days; i++ {
		lo := day.AddDate(0, 0, i)
		hi := lo.AddDate(0, 0, 1)
		stmt := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s PARTITION OF agv_positions FOR VALUES FROM (%s) TO (%s)`,
			pq.QuoteIdentifier(PartitionName(lo)),
			pq.QuoteLiteral(lo.Format(time.RFC3339)),
			pq.QuoteLiteral(hi.Format(time.RFC3339)),
		)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create partition %s: %w", PartitionName(lo), err)
		}
	}
	return nil
}

// ListPartitions returns the daily partition names, oldest first.
func (db *DB) ListPartitions(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class p ON p.oid = i.inhparent
		WHERE p.relname = 'agv_positions'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if _, ok := partitionDay(name); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, rows.Err()
}

// DropEmptyPartitionsBefore drops daily partitions that end at or before
// cutoff and hold no rows. Partitions that still hold rows are kept; the
// archiver empties them first.
func (db *DB) DropEmptyPartitionsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	names, err := db.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}

	var dropped []string
	for _, name := range names {
		day, _ := partitionDay(name)
		if day.AddDate(0, 0, 1).After(cutoff) {
			continue
		}
		var nonEmpty bool
		if err := db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s)`, pq.QuoteIdentifier(name)),
		).Scan(&nonEmpty); err != nil {
			return dropped, fmt.Errorf("failed to inspect partition %s: %w", name, err)
		}
		if nonEmpty {
			db.logger.Warn("Expired partition still holds rows", zap.String("partition", name))
			continue
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pq.QuoteIdentifier(name))); err != nil {
			return dropped, fmt.Errorf("failed to drop partition %s: %w", name, err)
		}
		dropped = append(dropped, name)
	}
	return dropped, nil
}
