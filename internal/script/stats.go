package script

import (
	"context"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// RecordSynthesis 为引擎当天的合成次数加一。
func (s *Store) RecordSynthesis(ctx context.Context, engine string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO synthesis_stats (engine, date, count) VALUES (?, ?, 1)
		ON CONFLICT(engine, date) DO UPDATE SET count = count + 1`,
		engine, time.Now().Format(dateLayout))
	if err != nil {
		return fmt.Errorf("记录合成统计失败: %w", err)
	}
	return nil
}

// SynthesisCounts 返回某天各引擎的合成次数。
func (s *Store) SynthesisCounts(ctx context.Context, day time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT engine, count FROM synthesis_stats WHERE date = ?`, day.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("查询合成统计失败: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			engine string
			n      int
		)
		if err := rows.Scan(&engine, &n); err != nil {
			return nil, err
		}
		counts[engine] = n
	}
	return counts, rows.Err()
}
