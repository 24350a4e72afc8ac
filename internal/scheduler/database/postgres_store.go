package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/G-Research/capstan/internal/scheduler/model"
)

const (
	clusterColumns    = `id, name, total_ram, total_cpu, total_gpu, available_ram, available_cpu, available_gpu, active, created, version`
	deploymentColumns = `id, name, image, owner, cluster_id, ram, cpu, gpu, priority, status, metadata, created, scheduled, started, completed, version`
)

var dialect = goqu.Dialect("postgres")

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PostgresStore is a Store backed by postgres. Each unit of work runs in a read committed transaction and takes
// row locks with SELECT ... FOR UPDATE, so concurrent writers to the same cluster or deployment are serialised.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	err := s.db.BeginTxFunc(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}, func(tx pgx.Tx) error {
		return fn(&postgresTx{q: tx, lock: true})
	})
	if err != nil {
		return mapPostgresError(err, "", "")
	}
	return nil
}

func (s *PostgresStore) reader() *postgresTx {
	return &postgresTx{q: s.db, lock: false}
}

func (s *PostgresStore) GetCluster(ctx context.Context, id string) (*model.Cluster, error) {
	return s.reader().GetCluster(ctx, id)
}

func (s *PostgresStore) GetClusterByName(ctx context.Context, name string) (*model.Cluster, error) {
	return s.reader().GetClusterByName(ctx, name)
}

func (s *PostgresStore) ListClusters(ctx context.Context) ([]*model.Cluster, error) {
	return s.reader().ListClusters(ctx)
}

func (s *PostgresStore) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	return s.reader().GetDeployment(ctx, id)
}

func (s *PostgresStore) ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*model.Deployment, error) {
	return s.reader().ListDeployments(ctx, filter)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

type postgresTx struct {
	q    querier
	lock bool
}

func (t *postgresTx) forUpdate() string {
	if t.lock {
		return " FOR UPDATE"
	}
	return ""
}

func (t *postgresTx) GetCluster(ctx context.Context, id string) (*model.Cluster, error) {
	row := t.q.QueryRow(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE id = $1`+t.forUpdate(), id)
	cluster, err := scanCluster(row)
	return cluster, mapPostgresError(err, clusterType, id)
}

func (t *postgresTx) GetClusterByName(ctx context.Context, name string) (*model.Cluster, error) {
	row := t.q.QueryRow(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE name = $1`+t.forUpdate(), name)
	cluster, err := scanCluster(row)
	return cluster, mapPostgresError(err, clusterType, name)
}

func (t *postgresTx) ListClusters(ctx context.Context) ([]*model.Cluster, error) {
	rows, err := t.q.Query(ctx, `SELECT `+clusterColumns+` FROM clusters ORDER BY created, id`)
	if err != nil {
		return nil, mapPostgresError(err, clusterType, "")
	}
	defer rows.Close()
	clusters := make([]*model.Cluster, 0)
	for rows.Next() {
		cluster, err := scanCluster(rows)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		clusters = append(clusters, cluster)
	}
	return clusters, errors.WithStack(rows.Err())
}

func (t *postgresTx) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	row := t.q.QueryRow(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = $1`+t.forUpdate(), id)
	deployment, err := scanDeployment(row)
	return deployment, mapPostgresError(err, deploymentType, id)
}

func (t *postgresTx) DeploymentClusterId(ctx context.Context, deploymentId string) (string, error) {
	var clusterId string
	err := t.q.QueryRow(ctx, `SELECT cluster_id FROM deployments WHERE id = $1`, deploymentId).Scan(&clusterId)
	return clusterId, mapPostgresError(err, deploymentType, deploymentId)
}

func (t *postgresTx) ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*model.Deployment, error) {
	sql, args, err := listDeploymentsQuery(filter, false)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return t.queryDeployments(ctx, sql, args...)
}

func (t *postgresTx) RunningDeployments(ctx context.Context, clusterId string) ([]*model.Deployment, error) {
	sql, args, err := listDeploymentsQuery(DeploymentFilter{ClusterId: clusterId, Status: model.StatusRunning}, t.lock)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return t.queryDeployments(ctx, sql, args...)
}

func (t *postgresTx) queryDeployments(ctx context.Context, sql string, args ...interface{}) ([]*model.Deployment, error) {
	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapPostgresError(err, deploymentType, "")
	}
	defer rows.Close()
	deployments := make([]*model.Deployment, 0)
	for rows.Next() {
		deployment, err := scanDeployment(rows)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		deployments = append(deployments, deployment)
	}
	return deployments, errors.WithStack(rows.Err())
}

func (t *postgresTx) InsertCluster(ctx context.Context, c *model.Cluster) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO clusters (`+clusterColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.Id, c.Name, c.Total.RAM, c.Total.CPU, c.Total.GPU,
		c.Available.RAM, c.Available.CPU, c.Available.GPU, c.Active, c.Created, c.Version)
	return mapPostgresError(err, clusterType, c.Name)
}

func (t *postgresTx) UpdateCluster(ctx context.Context, c *model.Cluster) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE clusters SET name = $2, total_ram = $3, total_cpu = $4, total_gpu = $5,
		 available_ram = $6, available_cpu = $7, available_gpu = $8, active = $9, version = version + 1
		 WHERE id = $1 AND version = $10`,
		c.Id, c.Name, c.Total.RAM, c.Total.CPU, c.Total.GPU,
		c.Available.RAM, c.Available.CPU, c.Available.GPU, c.Active, c.Version)
	if err != nil {
		return mapPostgresError(err, clusterType, c.Id)
	}
	if tag.RowsAffected() == 0 {
		return t.missingOrStale(ctx, `SELECT 1 FROM clusters WHERE id = $1`, clusterType, c.Id)
	}
	c.Version++
	return nil
}

func (t *postgresTx) InsertDeployment(ctx context.Context, d *model.Deployment) error {
	metadata, err := encodeMetadata(d.Metadata)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx,
		`INSERT INTO deployments (`+deploymentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		d.Id, d.Name, d.Image, d.Owner, d.ClusterId, d.Resources.RAM, d.Resources.CPU, d.Resources.GPU,
		int16(d.Priority), string(d.Status), metadata, d.Created, d.Scheduled, d.Started, d.Completed, d.Version)
	return mapPostgresError(err, deploymentType, d.Id)
}

func (t *postgresTx) UpdateDeployment(ctx context.Context, d *model.Deployment) error {
	metadata, err := encodeMetadata(d.Metadata)
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE deployments SET name = $2, image = $3, owner = $4, ram = $5, cpu = $6, gpu = $7, priority = $8,
		 status = $9, metadata = $10, scheduled = $11, started = $12, completed = $13, version = version + 1
		 WHERE id = $1 AND version = $14`,
		d.Id, d.Name, d.Image, d.Owner, d.Resources.RAM, d.Resources.CPU, d.Resources.GPU, int16(d.Priority),
		string(d.Status), metadata, d.Scheduled, d.Started, d.Completed, d.Version)
	if err != nil {
		return mapPostgresError(err, deploymentType, d.Id)
	}
	if tag.RowsAffected() == 0 {
		return t.missingOrStale(ctx, `SELECT 1 FROM deployments WHERE id = $1`, deploymentType, d.Id)
	}
	d.Version++
	return nil
}

func (t *postgresTx) TransitionStatus(ctx context.Context, d *model.Deployment, from, to model.Status) (bool, error) {
	row := t.q.QueryRow(ctx,
		`UPDATE deployments SET status = $2, version = version + 1 WHERE id = $1 AND status = $3
		 RETURNING `+deploymentColumns,
		d.Id, string(to), string(from))
	updated, err := scanDeployment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := t.GetDeployment(ctx, d.Id); err != nil {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		return false, mapPostgresError(err, deploymentType, d.Id)
	}
	*d = *updated
	return true, nil
}

func (t *postgresTx) missingOrStale(ctx context.Context, existsSql, typ, id string) error {
	var one int
	err := t.q.QueryRow(ctx, existsSql, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(typ, id)
	}
	if err != nil {
		return mapPostgresError(err, typ, id)
	}
	return staleVersion(typ, id)
}

func listDeploymentsQuery(filter DeploymentFilter, lock bool) (string, []interface{}, error) {
	ds := dialect.From("deployments").Prepared(true).Select(goqu.L(deploymentColumns))
	if filter.ClusterId != "" {
		ds = ds.Where(goqu.C("cluster_id").Eq(filter.ClusterId))
	}
	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(filter.Status)))
	}
	if filter.Owner != "" {
		ds = ds.Where(goqu.C("owner").Eq(filter.Owner))
	}
	ds = ds.Order(goqu.C("created").Asc(), goqu.C("id").Asc())
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if lock {
		ds = ds.ForUpdate(exp.Wait)
	}
	return ds.ToSQL()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCluster(row rowScanner) (*model.Cluster, error) {
	c := &model.Cluster{}
	err := row.Scan(&c.Id, &c.Name, &c.Total.RAM, &c.Total.CPU, &c.Total.GPU,
		&c.Available.RAM, &c.Available.CPU, &c.Available.GPU, &c.Active, &c.Created, &c.Version)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanDeployment(row rowScanner) (*model.Deployment, error) {
	d := &model.Deployment{}
	var priority int16
	var status string
	var metadata []byte
	var scheduled, started, completed pgtype.Timestamptz
	err := row.Scan(&d.Id, &d.Name, &d.Image, &d.Owner, &d.ClusterId,
		&d.Resources.RAM, &d.Resources.CPU, &d.Resources.GPU, &priority, &status, &metadata,
		&d.Created, &scheduled, &started, &completed, &d.Version)
	if err != nil {
		return nil, err
	}
	d.Priority = model.Priority(priority)
	d.Status = model.Status(status)
	d.Scheduled = timePtr(scheduled)
	d.Started = timePtr(started)
	d.Completed = timePtr(completed)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return nil, errors.WithStack(err)
		}
		if len(d.Metadata) == 0 {
			d.Metadata = nil
		}
	}
	return d, nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(b), nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if ts.Status != pgtype.Present {
		return nil
	}
	t := ts.Time
	return &t
}
