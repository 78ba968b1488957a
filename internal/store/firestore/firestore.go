// Package firestore backs the document store with a hosted Firestore
// database through the Firebase Admin SDK.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vendify/internal/store"
)

type Store struct {
	client *firestore.Client
}

type Config struct {
	ProjectID       string
	CredentialsPath string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("%w: firebase project id is empty", store.ErrStoreUnavailable)
	}
	opts := make([]option.ClientOption, 0, 1)
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: init firebase app: %v", store.ErrStoreUnavailable, err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: init firestore client: %v", store.ErrStoreUnavailable, err)
	}

	s := &Store{client: client}
	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if _, err := client.Collection(store.Branches).Limit(1).Documents(pingCtx).GetAll(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, collection string, id string) (store.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return fromSnapshot(snap), nil
}

func (s *Store) List(ctx context.Context, collection string, q store.Query) ([]store.Document, error) {
	query := s.client.Collection(collection).Query
	for _, f := range q.Filters {
		query = query.Where(f.Field, "==", f.Value)
	}
	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, mapError(err)
	}
	docs := make([]store.Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, fromSnapshot(snap))
	}
	return docs, nil
}

func (s *Store) Put(ctx context.Context, collection string, id string, doc store.Document) error {
	if id == "" {
		return store.ErrInvalidRecord
	}
	data := map[string]any(doc.Clone())
	data["id"] = id
	_, err := s.client.Collection(collection).Doc(id).Set(ctx, data)
	return mapError(err)
}

func (s *Store) Delete(ctx context.Context, collection string, id string) error {
	ref := s.client.Collection(collection).Doc(id)
	// Firestore deletes are idempotent, so existence is checked first to keep
	// ErrNotFound consistent with the other backends.
	if _, err := ref.Get(ctx); err != nil {
		return mapError(err)
	}
	_, err := ref.Delete(ctx)
	return mapError(err)
}

func (s *Store) AdjustQuantity(ctx context.Context, collection string, id string, delta int, expectedVersion int64) (store.Document, error) {
	ref := s.client.Collection(collection).Doc(id)
	var updated store.Document
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		next, err := store.ApplyAdjustment(fromSnapshot(snap), delta, expectedVersion, time.Now())
		if err != nil {
			return err
		}
		updated = next
		return tx.Set(ref, map[string]any(next))
	})
	if err != nil {
		return nil, mapError(err)
	}
	return updated, nil
}

func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	ref := s.client.Collection(store.Sequences).Doc(name)
	var value int64
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		value = 0
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if snap != nil && snap.Exists() {
			value = store.Document(snap.Data()).Int("value")
		}
		value++
		return tx.Set(ref, map[string]any{"value": value})
	})
	if err != nil {
		return 0, mapError(err)
	}
	return value, nil
}

func fromSnapshot(snap *firestore.DocumentSnapshot) store.Document {
	doc := store.Document(snap.Data())
	if doc == nil {
		doc = store.Document{}
	}
	if _, ok := doc["id"]; !ok {
		doc["id"] = snap.Ref.ID
	}
	return doc
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrInsufficientStock) || errors.Is(err, store.ErrNotFound) {
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return store.ErrNotFound
	case codes.Aborted:
		return store.ErrConflict
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return err
}
