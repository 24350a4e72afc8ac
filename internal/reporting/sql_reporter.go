package reporting

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/pkg/errors"

	"github.com/G-Research/capstan/internal/scheduler/model"
)

var (
	// Tables
	clustersTable    = goqu.T("clusters")
	deploymentsTable = goqu.T("deployments")

	// Columns
	col_id           = goqu.C("id")
	col_name         = goqu.C("name")
	col_active       = goqu.C("active")
	col_totalRam     = goqu.C("total_ram")
	col_totalCpu     = goqu.C("total_cpu")
	col_totalGpu     = goqu.C("total_gpu")
	col_availableRam = goqu.C("available_ram")
	col_availableCpu = goqu.C("available_cpu")
	col_availableGpu = goqu.C("available_gpu")
	col_status       = goqu.C("status")
)

type clusterRow struct {
	Id           string `db:"id"`
	Name         string `db:"name"`
	Active       bool   `db:"active"`
	TotalRam     int64  `db:"total_ram"`
	TotalCpu     int64  `db:"total_cpu"`
	TotalGpu     int64  `db:"total_gpu"`
	AvailableRam int64  `db:"available_ram"`
	AvailableCpu int64  `db:"available_cpu"`
	AvailableGpu int64  `db:"available_gpu"`
}

type statusCountRow struct {
	Status string `db:"status"`
	Count  int    `db:"count"`
}

// SqlReporter builds summaries with two aggregate queries against the scheduler's postgres tables, so that
// reporting does not need to load every deployment.
type SqlReporter struct {
	goquDb *goqu.Database
}

func NewSqlReporter(db *sql.DB) *SqlReporter {
	return &SqlReporter{goquDb: goqu.New("postgres", db)}
}

func (r *SqlReporter) Summary(ctx context.Context) (*Summary, error) {
	clustersSql, args, err := clustersQuery(r.goquDb).ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var clusters []clusterRow
	if err := r.goquDb.ScanStructsContext(ctx, &clusters, clustersSql, args...); err != nil {
		return nil, errors.Wrap(err, "failed to read clusters")
	}

	countsSql, args, err := statusCountsQuery(r.goquDb).ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var counts []statusCountRow
	if err := r.goquDb.ScanStructsContext(ctx, &counts, countsSql, args...); err != nil {
		return nil, errors.Wrap(err, "failed to count deployments")
	}

	summary := newSummary()
	for _, row := range clusters {
		summary.addCluster(row.toCluster())
	}
	for _, row := range counts {
		summary.addCount(model.Status(row.Status), row.Count)
	}
	return summary, nil
}

type selector interface {
	From(from ...interface{}) *goqu.SelectDataset
}

func clustersQuery(db selector) *goqu.SelectDataset {
	return db.
		From(clustersTable).
		Select(
			col_id,
			col_name,
			col_active,
			col_totalRam,
			col_totalCpu,
			col_totalGpu,
			col_availableRam,
			col_availableCpu,
			col_availableGpu).
		Order(col_name.Asc())
}

func statusCountsQuery(db selector) *goqu.SelectDataset {
	return db.
		From(deploymentsTable).
		Select(col_status, goqu.COUNT(goqu.Star()).As("count")).
		GroupBy(col_status).
		Order(col_status.Asc())
}

func (row clusterRow) toCluster() *model.Cluster {
	return &model.Cluster{
		Id:        row.Id,
		Name:      row.Name,
		Active:    row.Active,
		Total:     model.Resources{RAM: row.TotalRam, CPU: row.TotalCpu, GPU: row.TotalGpu},
		Available: model.Resources{RAM: row.AvailableRam, CPU: row.AvailableCpu, GPU: row.AvailableGpu},
	}
}
