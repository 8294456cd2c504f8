package sibling

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	replicator "github.com/user/s3db-replicator"
)

type fakeSibling struct {
	inserted map[string][]map[string]any
	updated  map[string]map[string]any
	deleted  map[string]string
}

func newFakeSibling() *fakeSibling {
	return &fakeSibling{
		inserted: map[string][]map[string]any{},
		updated:  map[string]map[string]any{},
	}
}

func (f *fakeSibling) Resource(name string) (replicator.Resource, bool) { return nil, false }

func (f *fakeSibling) Insert(ctx context.Context, resource string, data map[string]any) error {
	f.inserted[resource] = append(f.inserted[resource], data)
	return nil
}

func (f *fakeSibling) Update(ctx context.Context, resource string, id string, data map[string]any) error {
	f.updated[resource+"/"+id] = data
	return nil
}

func (f *fakeSibling) Delete(ctx context.Context, resource string, id string) error {
	f.deleted = map[string]string{resource: id}
	return nil
}

func TestValidateConfigRequiresRoutes(t *testing.T) {
	d := New(Config{}, nil)
	vr := d.ValidateConfig()
	assert.False(t, vr.Valid)
	assert.Contains(t, vr.Errors, "at least one resource route is required")
}

func TestInitializeRejectsNonSiblingSource(t *testing.T) {
	d := New(Config{Routes: map[string]json.RawMessage{"users": json.RawMessage(`"users_backup"`)}, BatchConcurrency: 5}, nil)
	err := d.Initialize(context.Background(), plainSource{})
	assert.Error(t, err)
	assert.False(t, replicator.IsRetriable(err))
}

type plainSource struct{}

func (plainSource) Resource(name string) (replicator.Resource, bool) { return nil, false }

func TestMultiDestinationFanOut(t *testing.T) {
	fake := newFakeSibling()
	d := New(Config{Routes: map[string]json.RawMessage{
		"users": json.RawMessage(`["users_backup", {"resource":"users_audit"}]`),
	}, BatchConcurrency: 5}, nil)
	assert.NoError(t, d.Initialize(context.Background(), fake))

	result, err := d.Replicate(context.Background(), "users", replicator.OpInsert, map[string]any{"id": "u9", "name": "Linus"}, "u9", nil)
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Results, 2)
	assert.Equal(t, "u9", fake.inserted["users_backup"][0]["id"])
	assert.Equal(t, "u9", fake.inserted["users_audit"][0]["id"])
}

func TestShouldReplicateResourceSemantics(t *testing.T) {
	d := New(Config{Routes: map[string]json.RawMessage{
		"users": json.RawMessage(`{"resource":"users_backup","actions":["insert"]}`),
	}, BatchConcurrency: 5}, nil)
	assert.NoError(t, d.Initialize(context.Background(), newFakeSibling()))

	assert.True(t, d.ShouldReplicateResource("users", nil))
	assert.False(t, d.ShouldReplicateResource("orders", nil))

	insertOp := replicator.OpInsert
	deleteOp := replicator.OpDelete
	assert.True(t, d.ShouldReplicateResource("users", &insertOp))
	assert.False(t, d.ShouldReplicateResource("users", &deleteOp))
}
