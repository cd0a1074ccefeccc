package scheduler

import (
	"context"

	"github.com/JupiterOne/integration-sdk/graphobject"
	"github.com/JupiterOne/integration-sdk/schema"
)

// JobState is the collection surface a step writes entities and
// relationships through. Writes land in the graph store under the step's
// bucket path.
type JobState interface {
	AddEntities(ctx context.Context, entities []*graphobject.Entity) error
	AddRelationships(ctx context.Context, relationships []*graphobject.Relationship) error
}

// stepJobState scopes writes to one step's bucket and applies the optional
// schema validation hook before forwarding to the store. A validation
// failure surfaces as the step's failure.
type stepJobState struct {
	bucketPath string
	store      GraphWriter
	validator  *schema.Validator
}

func newStepJobState(stepID string, store GraphWriter, validator *schema.Validator) *stepJobState {
	return &stepJobState{
		bucketPath: stepID,
		store:      store,
		validator:  validator,
	}
}

func (s *stepJobState) AddEntities(ctx context.Context, entities []*graphobject.Entity) error {
	if s.validator != nil {
		for _, e := range entities {
			if err := s.validator.ValidateEntity(e); err != nil {
				return err
			}
		}
	}
	return s.store.AddEntities(ctx, s.bucketPath, entities)
}

func (s *stepJobState) AddRelationships(ctx context.Context, relationships []*graphobject.Relationship) error {
	if s.validator != nil {
		for _, r := range relationships {
			if err := s.validator.ValidateRelationship(r); err != nil {
				return err
			}
		}
	}
	return s.store.AddRelationships(ctx, s.bucketPath, relationships)
}
