package database

import (
	"context"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/G-Research/capstan/internal/common/capstanerrors"
	"github.com/G-Research/capstan/internal/scheduler/model"
)

const (
	clustersTable      = "clusters"
	deploymentsTable   = "deployments"
	idIndex            = "id"
	nameIndex          = "name"
	clusterStatusIndex = "cluster_status"
)

// MemoryStore keeps clusters and deployments in a go-memdb database. Write transactions are serialised by memdb,
// so every unit of work sees and commits a consistent state.
// Objects stored in memdb are never modified in place; every read hands out a copy.
type MemoryStore struct {
	db *memdb.MemDB
}

func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memoryStoreSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &MemoryStore{db: db}, nil
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	txn := s.db.Txn(true)
	// Releases the writer lock if fn panics; a no-op once committed.
	defer txn.Abort()
	if err := fn(&memoryTx{txn: txn}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) read() *memoryTx {
	return &memoryTx{txn: s.db.Txn(false)}
}

func (s *MemoryStore) GetCluster(ctx context.Context, id string) (*model.Cluster, error) {
	return s.read().GetCluster(ctx, id)
}

func (s *MemoryStore) GetClusterByName(ctx context.Context, name string) (*model.Cluster, error) {
	return s.read().GetClusterByName(ctx, name)
}

func (s *MemoryStore) ListClusters(ctx context.Context) ([]*model.Cluster, error) {
	return s.read().ListClusters(ctx)
}

func (s *MemoryStore) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	return s.read().GetDeployment(ctx, id)
}

func (s *MemoryStore) ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*model.Deployment, error) {
	return s.read().ListDeployments(ctx, filter)
}

func (s *MemoryStore) Close() {}

type memoryTx struct {
	txn *memdb.Txn
}

func (t *memoryTx) GetCluster(_ context.Context, id string) (*model.Cluster, error) {
	obj, err := t.txn.First(clustersTable, idIndex, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, notFound(clusterType, id)
	}
	return obj.(*model.Cluster).Clone(), nil
}

func (t *memoryTx) GetClusterByName(_ context.Context, name string) (*model.Cluster, error) {
	obj, err := t.txn.First(clustersTable, nameIndex, name)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, notFound(clusterType, name)
	}
	return obj.(*model.Cluster).Clone(), nil
}

func (t *memoryTx) ListClusters(_ context.Context) ([]*model.Cluster, error) {
	iter, err := t.txn.Get(clustersTable, idIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	clusters := make([]*model.Cluster, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		clusters = append(clusters, obj.(*model.Cluster).Clone())
	}
	return clusters, nil
}

func (t *memoryTx) GetDeployment(_ context.Context, id string) (*model.Deployment, error) {
	obj, err := t.txn.First(deploymentsTable, idIndex, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, notFound(deploymentType, id)
	}
	return obj.(*model.Deployment).Clone(), nil
}

func (t *memoryTx) DeploymentClusterId(ctx context.Context, deploymentId string) (string, error) {
	deployment, err := t.GetDeployment(ctx, deploymentId)
	if err != nil {
		return "", err
	}
	return deployment.ClusterId, nil
}

func (t *memoryTx) ListDeployments(_ context.Context, filter DeploymentFilter) ([]*model.Deployment, error) {
	var iter memdb.ResultIterator
	var err error
	switch {
	case filter.ClusterId != "" && filter.Status != "":
		iter, err = t.txn.Get(deploymentsTable, clusterStatusIndex, filter.ClusterId, string(filter.Status))
	case filter.ClusterId != "":
		iter, err = t.txn.Get(deploymentsTable, clusterStatusIndex+"_prefix", filter.ClusterId)
	default:
		iter, err = t.txn.Get(deploymentsTable, idIndex)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	deployments := make([]*model.Deployment, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		d := obj.(*model.Deployment)
		if filter.matches(d) {
			deployments = append(deployments, d.Clone())
		}
	}
	slices.SortFunc(deployments, func(a, b *model.Deployment) bool {
		if a.Created.Equal(b.Created) {
			return a.Id < b.Id
		}
		return a.Created.Before(b.Created)
	})
	if filter.Limit > 0 && len(deployments) > filter.Limit {
		deployments = deployments[:filter.Limit]
	}
	return deployments, nil
}

func (t *memoryTx) RunningDeployments(ctx context.Context, clusterId string) ([]*model.Deployment, error) {
	return t.ListDeployments(ctx, DeploymentFilter{ClusterId: clusterId, Status: model.StatusRunning})
}

func (t *memoryTx) InsertCluster(_ context.Context, cluster *model.Cluster) error {
	for _, lookup := range []struct{ index, value string }{{idIndex, cluster.Id}, {nameIndex, cluster.Name}} {
		existing, err := t.txn.First(clustersTable, lookup.index, lookup.value)
		if err != nil {
			return errors.WithStack(err)
		}
		if existing != nil {
			return errors.WithStack(&capstanerrors.ErrAlreadyExists{Type: clusterType, Value: lookup.value})
		}
	}
	if err := t.txn.Insert(clustersTable, cluster.Clone()); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (t *memoryTx) UpdateCluster(_ context.Context, cluster *model.Cluster) error {
	obj, err := t.txn.First(clustersTable, idIndex, cluster.Id)
	if err != nil {
		return errors.WithStack(err)
	}
	if obj == nil {
		return notFound(clusterType, cluster.Id)
	}
	if obj.(*model.Cluster).Version != cluster.Version {
		return staleVersion(clusterType, cluster.Id)
	}
	cluster.Version++
	if err := t.txn.Insert(clustersTable, cluster.Clone()); err != nil {
		cluster.Version--
		return errors.WithStack(err)
	}
	return nil
}

func (t *memoryTx) InsertDeployment(_ context.Context, deployment *model.Deployment) error {
	existing, err := t.txn.First(deploymentsTable, idIndex, deployment.Id)
	if err != nil {
		return errors.WithStack(err)
	}
	if existing != nil {
		return errors.WithStack(&capstanerrors.ErrAlreadyExists{Type: deploymentType, Value: deployment.Id})
	}
	if err := t.txn.Insert(deploymentsTable, deployment.Clone()); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (t *memoryTx) UpdateDeployment(_ context.Context, deployment *model.Deployment) error {
	obj, err := t.txn.First(deploymentsTable, idIndex, deployment.Id)
	if err != nil {
		return errors.WithStack(err)
	}
	if obj == nil {
		return notFound(deploymentType, deployment.Id)
	}
	if obj.(*model.Deployment).Version != deployment.Version {
		return staleVersion(deploymentType, deployment.Id)
	}
	deployment.Version++
	if err := t.txn.Insert(deploymentsTable, deployment.Clone()); err != nil {
		deployment.Version--
		return errors.WithStack(err)
	}
	return nil
}

func (t *memoryTx) TransitionStatus(_ context.Context, deployment *model.Deployment, from, to model.Status) (bool, error) {
	obj, err := t.txn.First(deploymentsTable, idIndex, deployment.Id)
	if err != nil {
		return false, errors.WithStack(err)
	}
	if obj == nil {
		return false, notFound(deploymentType, deployment.Id)
	}
	stored := obj.(*model.Deployment)
	if stored.Status != from {
		return false, nil
	}
	updated := stored.Clone()
	updated.Status = to
	updated.Version++
	if err := t.txn.Insert(deploymentsTable, updated); err != nil {
		return false, errors.WithStack(err)
	}
	*deployment = *updated.Clone()
	return true, nil
}

func memoryStoreSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			clustersTable: {
				Name: clustersTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Id"},
					},
					nameIndex: {
						Name:    nameIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
				},
			},
			deploymentsTable: {
				Name: deploymentsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Id"},
					},
					clusterStatusIndex: {
						Name:   clusterStatusIndex,
						Unique: false,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "ClusterId"},
								&memdb.StringFieldIndex{Field: "Status"},
							},
							AllowMissing: true,
						},
					},
				},
			},
		},
	}
}
