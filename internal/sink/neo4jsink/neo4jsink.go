// Package neo4jsink writes entities, observations, and relations straight
// into Neo4j using the same graph shape as the knowledge graph service:
// (:Entity {name, entityType})-[:HAS_OBSERVATION]->(:Observation {content})
// and (:Entity)-[:RELATES_TO {type}]->(:Entity).
package neo4jsink

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

const (
	constraintQuery = "CREATE CONSTRAINT entity_name IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE"

	entitiesQuery = "UNWIND $entities AS entity " +
		"MERGE (e:Entity {name: entity.name}) " +
		"SET e.entityType = entity.entityType " +
		"WITH e, entity " +
		"UNWIND entity.observations AS observation " +
		"MERGE (o:Observation {content: observation}) " +
		"MERGE (e)-[:HAS_OBSERVATION]->(o)"

	relationsQuery = "UNWIND $relations AS rel " +
		"MERGE (from:Entity {name: rel.from}) " +
		"MERGE (to:Entity {name: rel.to}) " +
		"MERGE (from)-[r:RELATES_TO {type: rel.relationType}]->(to)"
)

// SessionRunner abstracts neo4j.SessionWithContext.
type SessionRunner interface {
	ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork, configurers ...func(*neo4j.TransactionConfig)) (any, error)
	Close(ctx context.Context) error
}

// DriverSessioner abstracts neo4j.DriverWithContext.
type DriverSessioner interface {
	NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner
	Close(ctx context.Context) error
}

// Config holds connection settings.
type Config struct {
	URI      string
	User     string
	Password string
	Database string
}

type statement struct {
	query  string
	params map[string]any
}

type driverAdapter struct {
	driver neo4j.DriverWithContext
}

func (d *driverAdapter) NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner {
	return d.driver.NewSession(ctx, config)
}

func (d *driverAdapter) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// Sink writes batches to Neo4j.
type Sink struct {
	driver   DriverSessioner
	database string
	logger   *zap.Logger
}

// New dials Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return NewWithDriver(&driverAdapter{driver: driver}, cfg.Database, logger), nil
}

// NewWithDriver builds a Sink around an existing driver (tests).
func NewWithDriver(driver DriverSessioner, database string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{driver: driver, database: database, logger: logger}
}

// EnsureSchema creates the entity name uniqueness constraint.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	return s.runWrite(ctx, []statement{{query: constraintQuery}})
}

// Push implements crawler.Sink. The whole batch is written in one transaction.
func (s *Sink) Push(ctx context.Context, batch crawler.Batch) error {
	stmts := buildStatements(batch)
	if len(stmts) == 0 {
		return nil
	}
	if err := s.runWrite(ctx, stmts); err != nil {
		if neo4j.IsNeo4jError(err) && !neo4j.IsRetryable(err) {
			return crawler.Permanent(err)
		}
		return err
	}
	return nil
}

// Close releases the driver.
func (s *Sink) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Sink) runWrite(ctx context.Context, stmts []statement) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer func() {
		if err := session.Close(ctx); err != nil {
			s.logger.Warn("neo4j session close failed", zap.Error(err))
		}
	}()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			if _, err := tx.Run(ctx, st.query, st.params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j write: %w", err)
	}
	return nil
}

func buildStatements(batch crawler.Batch) []statement {
	var stmts []statement
	if len(batch.Entities) > 0 {
		entities := make([]map[string]any, 0, len(batch.Entities))
		for _, e := range batch.Entities {
			observations := e.Observations
			if observations == nil {
				observations = []string{}
			}
			entities = append(entities, map[string]any{
				"name":         e.Name,
				"entityType":   e.EntityType,
				"observations": observations,
			})
		}
		stmts = append(stmts, statement{query: entitiesQuery, params: map[string]any{"entities": entities}})
	}
	if len(batch.Relations) > 0 {
		relations := make([]map[string]any, 0, len(batch.Relations))
		for _, r := range batch.Relations {
			relations = append(relations, map[string]any{
				"from":         r.From,
				"relationType": r.RelationType,
				"to":           r.To,
			})
		}
		stmts = append(stmts, statement{query: relationsQuery, params: map[string]any{"relations": relations}})
	}
	return stmts
}
