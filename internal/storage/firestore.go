package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/signin-gate/internal/crypto"
	"github.com/dgellow/signin-gate/internal/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ StateStore = (*FirestoreStateStore)(nil)

// FirestoreStateStore keeps pending authorization requests in Google Cloud
// Firestore, one document per state keyed by the state's SHA-256.
//
// Expired documents are only removed by DeleteExpired; Consume rejects them
// regardless.
type FirestoreStateStore struct {
	client     *firestore.Client
	collection string
	ttl        time.Duration
	now        func() time.Time
}

// StateDoc represents a pending authorization request document in Firestore
type StateDoc struct {
	ReturnURL string    `firestore:"return_url"`
	CreatedAt time.Time `firestore:"created_at"`
	ExpiresAt time.Time `firestore:"expires_at"`
}

// NewFirestoreStateStore creates a new Firestore state store
func NewFirestoreStateStore(ctx context.Context, projectID, database, collection string, ttl time.Duration, opts ...Option) (*FirestoreStateStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("state ttl must be positive")
	}

	var client *firestore.Client
	var err error

	// Firestore client with custom database
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	o := applyOptions(opts)
	return &FirestoreStateStore{
		client:     client,
		collection: collection,
		ttl:        ttl,
		now:        o.now,
	}, nil
}

func (s *FirestoreStateStore) doc(state string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(crypto.HashToken(state))
}

// Issue creates the state document; Create fails if it already exists
func (s *FirestoreStateStore) Issue(ctx context.Context, returnURL string) (string, error) {
	req, err := newAuthorizationRequest(returnURL, s.now(), s.ttl)
	if err != nil {
		return "", err
	}

	_, err = s.doc(req.State).Create(ctx, StateDoc{
		ReturnURL: req.ReturnURL,
		CreatedAt: req.CreatedAt,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return "", fmt.Errorf("state collision")
		}
		return "", fmt.Errorf("failed to store state: %w", err)
	}
	return req.State, nil
}

// Consume reads and deletes the state document in one transaction
func (s *FirestoreStateStore) Consume(ctx context.Context, state string) (*AuthorizationRequest, error) {
	if state == "" {
		return nil, ErrInvalidOrExpiredState
	}
	ref := s.doc(state)

	var stateDoc StateDoc
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrInvalidOrExpiredState
			}
			return fmt.Errorf("failed to get state: %w", err)
		}
		if err := doc.DataTo(&stateDoc); err != nil {
			return fmt.Errorf("failed to unmarshal state: %w", err)
		}
		return tx.Delete(ref)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredState) || status.Code(err) == codes.NotFound {
			return nil, ErrInvalidOrExpiredState
		}
		return nil, fmt.Errorf("failed to consume state: %w", err)
	}

	req := &AuthorizationRequest{
		State:     state,
		ReturnURL: stateDoc.ReturnURL,
		CreatedAt: stateDoc.CreatedAt,
		ExpiresAt: stateDoc.ExpiresAt,
	}
	if req.Expired(s.now()) {
		return nil, ErrInvalidOrExpiredState
	}
	return req, nil
}

// DeleteExpired removes all expired state documents
func (s *FirestoreStateStore) DeleteExpired(ctx context.Context) (int, error) {
	iter := s.client.Collection(s.collection).
		Where("expires_at", "<=", s.now()).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0
	const maxBatchSize = 500 // Firestore batch write limit

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate expired states: %w", err)
		}

		batch.Delete(doc.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}

	if count > 0 {
		log.LogDebugWithFields("firestore", "Deleted expired states", map[string]any{
			"count": count,
		})
	}
	return count, nil
}

// Ping reads at most one document to check that the collection is reachable
func (s *FirestoreStateStore) Ping(ctx context.Context) error {
	iter := s.client.Collection(s.collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore unreachable: %w", err)
	}
	return nil
}

// Close closes the Firestore client
func (s *FirestoreStateStore) Close() error {
	return s.client.Close()
}
