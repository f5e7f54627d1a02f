package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warden/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoDB holds the MongoDB client and database.
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewMongoDB connects to MongoDB and verifies the connection.
func NewMongoDB(uri, dbName string, maxPoolSize uint64, logger *zap.SugaredLogger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).SetMaxPoolSize(maxPoolSize)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB successfully")

	return &MongoDB{
		Client:   client,
		Database: client.Database(dbName),
	}, nil
}

// HealthCheck pings the server.
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	return m.Client.Ping(ctx, nil)
}

// Close disconnects the client.
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// IncidentCursor interface for mocking
type IncidentCursor interface {
	Next(ctx context.Context) bool
	Decode(v interface{}) error
	Close(ctx context.Context) error
	Err() error
}

// IncidentSingleResult interface for mocking
type IncidentSingleResult interface {
	Decode(v interface{}) error
}

// IncidentCollection interface for mocking
type IncidentCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) IncidentSingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (IncidentCursor, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// mongoIncidentCursor adapts *mongo.Cursor to IncidentCursor
type mongoIncidentCursor struct {
	*mongo.Cursor
}

func (m *mongoIncidentCursor) Next(ctx context.Context) bool   { return m.Cursor.Next(ctx) }
func (m *mongoIncidentCursor) Decode(v interface{}) error      { return m.Cursor.Decode(v) }
func (m *mongoIncidentCursor) Close(ctx context.Context) error { return m.Cursor.Close(ctx) }
func (m *mongoIncidentCursor) Err() error                      { return m.Cursor.Err() }

// mongoIncidentCollection adapts *mongo.Collection to IncidentCollection
type mongoIncidentCollection struct {
	*mongo.Collection
}

func (m *mongoIncidentCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) IncidentSingleResult {
	return m.Collection.FindOne(ctx, filter, opts...)
}

func (m *mongoIncidentCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (IncidentCursor, error) {
	cursor, err := m.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return &mongoIncidentCursor{Cursor: cursor}, nil
}

// incidentDocument is the BSON shape stored in the incidents collection.
type incidentDocument struct {
	ID        string              `bson:"_id"`
	Type      string              `bson:"type"`
	Severity  string              `bson:"severity"`
	Source    string              `bson:"source"`
	UserID    string              `bson:"user_id,omitempty"`
	Score     int                 `bson:"score"`
	Actions   []core.ActionResult `bson:"actions,omitempty"`
	Status    string              `bson:"status"`
	CreatedAt time.Time           `bson:"created_at"`
	UpdatedAt time.Time           `bson:"updated_at"`
}

func toIncidentDocument(incident *core.Incident) *incidentDocument {
	return &incidentDocument{
		ID:        incident.ID,
		Type:      string(incident.Type),
		Severity:  string(incident.Severity),
		Source:    incident.Source,
		UserID:    incident.UserID,
		Score:     incident.Score,
		Actions:   incident.Actions,
		Status:    string(incident.Status),
		CreatedAt: incident.CreatedAt,
		UpdatedAt: incident.UpdatedAt,
	}
}

func (d *incidentDocument) toIncident() *core.Incident {
	return &core.Incident{
		ID:        d.ID,
		Type:      core.ThreatType(d.Type),
		Severity:  core.Severity(d.Severity),
		Source:    d.Source,
		UserID:    d.UserID,
		Score:     d.Score,
		Actions:   d.Actions,
		Status:    core.IncidentStatus(d.Status),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// MongoIncidentStore persists incidents in a MongoDB collection. Optional
// backend, selected by config.
type MongoIncidentStore struct {
	coll   IncidentCollection
	logger *zap.SugaredLogger
}

// NewMongoIncidentStore wraps the incidents collection of the given database.
func NewMongoIncidentStore(db *MongoDB, logger *zap.SugaredLogger) *MongoIncidentStore {
	return &MongoIncidentStore{
		coll:   &mongoIncidentCollection{Collection: db.Database.Collection("incidents")},
		logger: logger,
	}
}

// RecordIncident inserts a new incident and returns its ID.
func (s *MongoIncidentStore) RecordIncident(ctx context.Context, incident *core.Incident) (string, error) {
	if _, err := s.coll.InsertOne(ctx, toIncidentDocument(incident)); err != nil {
		return "", fmt.Errorf("failed to insert incident: %w", err)
	}
	return incident.ID, nil
}

// UpdateIncident replaces a stored incident by ID.
func (s *MongoIncidentStore) UpdateIncident(ctx context.Context, incident *core.Incident) error {
	result, err := s.coll.ReplaceOne(ctx, bson.M{"_id": incident.ID}, toIncidentDocument(incident))
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("incident %s: %w", incident.ID, core.ErrIncidentNotFound)
	}
	return nil
}

// GetIncident fetches a single incident by ID.
func (s *MongoIncidentStore) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	var doc incidentDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("incident %s: %w", id, core.ErrIncidentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return doc.toIncident(), nil
}

// ListIncidents returns matching incidents, newest first, plus the total
// count before pagination.
func (s *MongoIncidentStore) ListIncidents(ctx context.Context, filters IncidentFilters) ([]*core.Incident, int64, error) {
	filter := bson.M{}
	if filters.Source != "" {
		filter["source"] = filters.Source
	}
	if filters.Type != "" {
		filter["type"] = filters.Type
	}
	if filters.Status != "" {
		filter["status"] = filters.Status
	}

	totalCount, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count incidents: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}

	findOptions := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := s.coll.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer cursor.Close(ctx)

	var incidents []*core.Incident
	for cursor.Next(ctx) {
		var doc incidentDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("failed to decode incident: %w", err)
		}
		incidents = append(incidents, doc.toIncident())
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, fmt.Errorf("cursor error: %w", err)
	}

	return incidents, totalCount, nil
}
