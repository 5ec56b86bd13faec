// Package sessions persists and locks agent conversation sessions.
package sessions

import (
	"context"

	"github.com/haasonsaas/operon/pkg/models"
)

// Store is the interface for session persistence.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, agentName string) ([]*models.Session, error)
}
