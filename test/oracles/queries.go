package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_claimed_without_bellman",
			SQL: `SELECT id, data FROM documents
                  WHERE collection = 'bellRequests'
                    AND data ->> 'status' IN ('accepted','completed')
                    AND (COALESCE(data ->> 'bellmanId', '') = '' OR data ->> 'acceptedAt' IS NULL)`,
		},
		{
			Name: "O2_pending_with_bellman",
			SQL: `SELECT id, data FROM documents
                  WHERE collection = 'bellRequests'
                    AND data ->> 'status' = 'pending'
                    AND (data ? 'bellmanId' OR data ? 'acceptedAt' OR data ? 'completedAt')`,
		},
		{
			Name: "O3_scheduled_time_mismatch",
			SQL: `SELECT id, data FROM documents
                  WHERE collection = 'bellRequests'
                    AND ((data ->> 'pickupTime' = 'scheduled') <> (data ? 'scheduledTime'))`,
		},
		{
			Name: "O4_completed_out_of_order",
			SQL: `SELECT id, data FROM documents
                  WHERE collection = 'bellRequests'
                    AND data ->> 'status' = 'completed'
                    AND (data ->> 'completedAt' IS NULL
                         OR data ->> 'completedAt' < data ->> 'acceptedAt'
                         OR data ->> 'acceptedAt' < data ->> 'timestamp')`,
		},
		{
			Name: "O5_unknown_status",
			SQL: `SELECT id, data FROM documents
                  WHERE collection = 'bellRequests'
                    AND COALESCE(data ->> 'status', '') NOT IN ('pending','accepted','completed')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}

// BellmanOf reads the stored winner of one request.
func BellmanOf(ctx context.Context, pool *pgxpool.Pool, requestID string) (string, error) {
	var id string
	err := pool.QueryRow(ctx, `SELECT COALESCE(data ->> 'bellmanId', '') FROM documents
                               WHERE collection = 'bellRequests' AND id = $1`, requestID).Scan(&id)
	return id, err
}
