package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"warden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// fakeIncidentCollection is an in-memory IncidentCollection that also
// captures the filters and options the store builds.
type fakeIncidentCollection struct {
	docs         []incidentDocument
	lastFilter   bson.M
	lastFindOpts *options.FindOptions
	findErr      error
}

func (f *fakeIncidentCollection) InsertOne(_ context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	doc := document.(*incidentDocument)
	f.docs = append(f.docs, *doc)
	return &mongo.InsertOneResult{InsertedID: doc.ID}, nil
}

func (f *fakeIncidentCollection) ReplaceOne(_ context.Context, filter interface{}, replacement interface{}, _ ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	f.lastFilter = filter.(bson.M)
	doc := replacement.(*incidentDocument)
	for i := range f.docs {
		if f.docs[i].ID == f.lastFilter["_id"] {
			f.docs[i] = *doc
			return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}
	return &mongo.UpdateResult{MatchedCount: 0}, nil
}

func (f *fakeIncidentCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) IncidentSingleResult {
	f.lastFilter = filter.(bson.M)
	for i := range f.docs {
		if f.docs[i].ID == f.lastFilter["_id"] {
			return &fakeSingleResult{doc: &f.docs[i]}
		}
	}
	return &fakeSingleResult{err: mongo.ErrNoDocuments}
}

func (f *fakeIncidentCollection) Find(_ context.Context, filter interface{}, opts ...*options.FindOptions) (IncidentCursor, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	f.lastFilter = filter.(bson.M)
	if len(opts) > 0 {
		f.lastFindOpts = opts[0]
	}
	var matched []incidentDocument
	for _, doc := range f.docs {
		if matchesIncidentFilter(doc, f.lastFilter) {
			matched = append(matched, doc)
		}
	}
	return &fakeIncidentCursor{docs: matched}, nil
}

func (f *fakeIncidentCollection) CountDocuments(_ context.Context, filter interface{}, _ ...*options.CountOptions) (int64, error) {
	var count int64
	for _, doc := range f.docs {
		if matchesIncidentFilter(doc, filter.(bson.M)) {
			count++
		}
	}
	return count, nil
}

func matchesIncidentFilter(doc incidentDocument, filter bson.M) bool {
	for key, value := range filter {
		switch key {
		case "_id":
			if doc.ID != value {
				return false
			}
		case "source":
			if doc.Source != value {
				return false
			}
		case "type":
			if doc.Type != value {
				return false
			}
		case "status":
			if doc.Status != value {
				return false
			}
		}
	}
	return true
}

type fakeSingleResult struct {
	doc *incidentDocument
	err error
}

func (r *fakeSingleResult) Decode(v interface{}) error {
	if r.err != nil {
		return r.err
	}
	*v.(*incidentDocument) = *r.doc
	return nil
}

type fakeIncidentCursor struct {
	docs []incidentDocument
	idx  int
}

func (c *fakeIncidentCursor) Next(context.Context) bool {
	if c.idx >= len(c.docs) {
		return false
	}
	c.idx++
	return true
}

func (c *fakeIncidentCursor) Decode(v interface{}) error {
	*v.(*incidentDocument) = c.docs[c.idx-1]
	return nil
}

func (c *fakeIncidentCursor) Close(context.Context) error { return nil }
func (c *fakeIncidentCursor) Err() error                  { return nil }

func newFakeMongoStore() (*MongoIncidentStore, *fakeIncidentCollection) {
	coll := &fakeIncidentCollection{}
	return &MongoIncidentStore{coll: coll, logger: zap.NewNop().Sugar()}, coll
}

func TestMongoIncidentStoreRoundTrip(t *testing.T) {
	store, _ := newFakeMongoStore()
	ctx := context.Background()

	incident := testIncident("203.0.113.9")
	id, err := store.RecordIncident(ctx, incident)
	require.NoError(t, err)
	assert.Equal(t, incident.ID, id)

	got, err := store.GetIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, incident.Type, got.Type)
	assert.Equal(t, incident.Severity, got.Severity)
	assert.Equal(t, incident.Score, got.Score)
	assert.Equal(t, incident.Status, got.Status)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, core.ActionSQLInjectionFilter, got.Actions[0].Type)
}

func TestMongoIncidentStoreGetMissing(t *testing.T) {
	store, _ := newFakeMongoStore()

	_, err := store.GetIncident(context.Background(), "absent")
	assert.ErrorIs(t, err, core.ErrIncidentNotFound)
}

func TestMongoIncidentStoreUpdate(t *testing.T) {
	store, _ := newFakeMongoStore()
	ctx := context.Background()

	incident := testIncident("203.0.113.10")
	_, err := store.RecordIncident(ctx, incident)
	require.NoError(t, err)

	incident.Status = core.IncidentStatusFailed
	incident.Score = 12
	require.NoError(t, store.UpdateIncident(ctx, incident))

	got, err := store.GetIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, core.IncidentStatusFailed, got.Status)
	assert.Equal(t, 12, got.Score)
}

func TestMongoIncidentStoreUpdateMissing(t *testing.T) {
	store, _ := newFakeMongoStore()

	incident := testIncident("203.0.113.11")
	err := store.UpdateIncident(context.Background(), incident)
	assert.ErrorIs(t, err, core.ErrIncidentNotFound)
}

func TestMongoIncidentStoreListBuildsFilter(t *testing.T) {
	store, coll := newFakeMongoStore()
	ctx := context.Background()

	for i, source := range []string{"198.51.100.1", "198.51.100.1", "198.51.100.2"} {
		incident := testIncident(source)
		incident.ID = fmt.Sprintf("inc-%d", i)
		_, err := store.RecordIncident(ctx, incident)
		require.NoError(t, err)
	}

	incidents, total, err := store.ListIncidents(ctx, IncidentFilters{Source: "198.51.100.1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, incidents, 2)
	assert.Equal(t, bson.M{"source": "198.51.100.1"}, coll.lastFilter)

	require.NotNil(t, coll.lastFindOpts)
	require.NotNil(t, coll.lastFindOpts.Limit)
	assert.EqualValues(t, 100, *coll.lastFindOpts.Limit)
}

func TestMongoIncidentStoreListClampsPagination(t *testing.T) {
	store, coll := newFakeMongoStore()

	_, _, err := store.ListIncidents(context.Background(), IncidentFilters{Limit: 5000, Offset: -3})
	require.NoError(t, err)

	require.NotNil(t, coll.lastFindOpts)
	require.NotNil(t, coll.lastFindOpts.Limit)
	require.NotNil(t, coll.lastFindOpts.Skip)
	assert.EqualValues(t, 1000, *coll.lastFindOpts.Limit)
	assert.EqualValues(t, 0, *coll.lastFindOpts.Skip)
}

func TestMongoIncidentStoreListCursorError(t *testing.T) {
	store, coll := newFakeMongoStore()
	coll.findErr = errors.New("cursor exploded")

	_, _, err := store.ListIncidents(context.Background(), IncidentFilters{})
	assert.ErrorContains(t, err, "failed to query incidents")
}
