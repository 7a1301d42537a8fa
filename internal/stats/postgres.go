package stats

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/jackc/pgx/v5/stdlib"

	"binsim/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate creates the schema if it does not exist. Safe to run on startup.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_records (
			seq BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			bin_id TEXT NOT NULL,
			truck_id TEXT,
			announced_at BIGINT NOT NULL,
			awarded_at BIGINT,
			completed_at BIGINT,
			actual_cost DOUBLE PRECISION,
			retries INT NOT NULL DEFAULT 0,
			expired BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS task_records_run_idx ON task_records (run_id, seq)`,
		`CREATE TABLE IF NOT EXISTS run_summaries (
			run_id TEXT PRIMARY KEY,
			seed BIGINT NOT NULL,
			ticks BIGINT NOT NULL,
			bins INT NOT NULL,
			trucks INT NOT NULL,
			total_tasks INT NOT NULL,
			completed_tasks INT NOT NULL,
			expired_tasks INT NOT NULL,
			avg_wait_ticks DOUBLE PRECISION NOT NULL,
			total_distance DOUBLE PRECISION NOT NULL,
			fuel_consumed DOUBLE PRECISION NOT NULL,
			waste_generated DOUBLE PRECISION NOT NULL,
			waste_collected DOUBLE PRECISION NOT NULL,
			overflow_count INT NOT NULL,
			malfunction_count INT NOT NULL,
			refuel_count INT NOT NULL,
			depot_returns INT NOT NULL,
			traffic_incidents INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) SaveTaskRecord(ctx context.Context, runID string, rec model.TaskRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO task_records (run_id, task_id, bin_id, truck_id, announced_at, awarded_at, completed_at, actual_cost, retries, expired)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		runID, rec.TaskID, rec.BinID, nullIfEmpty(rec.TruckID), rec.AnnouncedAt, rec.AwardedAt, rec.CompletedAt, rec.ActualCost, rec.Retries, rec.Expired)
	return err
}

func (p *Postgres) ListTaskRecords(ctx context.Context, runID string) ([]model.TaskRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT task_id, bin_id, truck_id, announced_at, awarded_at, completed_at, actual_cost, retries, expired
		 FROM task_records WHERE run_id=$1 ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.TaskRecord{}
	for rows.Next() {
		var rec model.TaskRecord
		var truck sql.NullString
		if err := rows.Scan(&rec.TaskID, &rec.BinID, &truck, &rec.AnnouncedAt, &rec.AwardedAt, &rec.CompletedAt, &rec.ActualCost, &rec.Retries, &rec.Expired); err != nil {
			return nil, err
		}
		rec.TruckID = truck.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveRunSummary(ctx context.Context, s model.RunSummary) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO run_summaries (run_id, seed, ticks, bins, trucks, total_tasks, completed_tasks, expired_tasks, avg_wait_ticks,
			total_distance, fuel_consumed, waste_generated, waste_collected, overflow_count, malfunction_count, refuel_count, depot_returns, traffic_incidents)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		 ON CONFLICT (run_id) DO UPDATE SET
			ticks=EXCLUDED.ticks, total_tasks=EXCLUDED.total_tasks, completed_tasks=EXCLUDED.completed_tasks,
			expired_tasks=EXCLUDED.expired_tasks, avg_wait_ticks=EXCLUDED.avg_wait_ticks, total_distance=EXCLUDED.total_distance,
			fuel_consumed=EXCLUDED.fuel_consumed, waste_generated=EXCLUDED.waste_generated, waste_collected=EXCLUDED.waste_collected,
			overflow_count=EXCLUDED.overflow_count, malfunction_count=EXCLUDED.malfunction_count, refuel_count=EXCLUDED.refuel_count,
			depot_returns=EXCLUDED.depot_returns, traffic_incidents=EXCLUDED.traffic_incidents`,
		s.RunID, s.Seed, s.Ticks, s.Bins, s.Trucks, s.TotalTasks, s.CompletedTasks, s.ExpiredTasks, s.AverageWaitTicks,
		s.TotalDistance, s.FuelConsumed, s.WasteGenerated, s.WasteCollected, s.OverflowCount, s.MalfunctionCount,
		s.RefuelCount, s.DepotReturns, s.TrafficIncidents)
	return err
}

func (p *Postgres) GetRunSummary(ctx context.Context, runID string) (model.RunSummary, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT run_id, seed, ticks, bins, trucks, total_tasks, completed_tasks, expired_tasks, avg_wait_ticks,
			total_distance, fuel_consumed, waste_generated, waste_collected, overflow_count, malfunction_count, refuel_count, depot_returns, traffic_incidents
		 FROM run_summaries WHERE run_id=$1`, runID)
	var s model.RunSummary
	err := row.Scan(&s.RunID, &s.Seed, &s.Ticks, &s.Bins, &s.Trucks, &s.TotalTasks, &s.CompletedTasks, &s.ExpiredTasks, &s.AverageWaitTicks,
		&s.TotalDistance, &s.FuelConsumed, &s.WasteGenerated, &s.WasteCollected, &s.OverflowCount, &s.MalfunctionCount,
		&s.RefuelCount, &s.DepotReturns, &s.TrafficIncidents)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunSummary{}, ErrNotFound
	}
	if err != nil {
		return model.RunSummary{}, err
	}
	return s, nil
}

func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT run_id, seed, ticks, bins, trucks, total_tasks, completed_tasks, expired_tasks, avg_wait_ticks,
			total_distance, fuel_consumed, waste_generated, waste_collected, overflow_count, malfunction_count, refuel_count, depot_returns, traffic_incidents
		 FROM run_summaries ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.RunSummary{}
	for rows.Next() {
		var s model.RunSummary
		if err := rows.Scan(&s.RunID, &s.Seed, &s.Ticks, &s.Bins, &s.Trucks, &s.TotalTasks, &s.CompletedTasks, &s.ExpiredTasks, &s.AverageWaitTicks,
			&s.TotalDistance, &s.FuelConsumed, &s.WasteGenerated, &s.WasteCollected, &s.OverflowCount, &s.MalfunctionCount,
			&s.RefuelCount, &s.DepotReturns, &s.TrafficIncidents); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
