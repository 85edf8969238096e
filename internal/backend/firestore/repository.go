package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Document is a decoded snapshot with its id and update time.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// Collection is a typed view over one Firestore collection. T is decoded with the native
// firestore struct tags.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed collection to the provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Get fetches and decodes the document.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := c.doc(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("%s: decode %s: %w", c.op("get"), id, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: data, UpdateTime: snap.UpdateTime}, nil
}

// Merge writes only the given fields, creating the document when missing.
func (c *Collection[T]) Merge(ctx context.Context, id string, fields map[string]any) error {
	doc, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, fields, firestore.MergeAll); err != nil {
		return WrapError(c.op("merge"), err)
	}
	return nil
}

// Create stores value under a generated id and returns it.
func (c *Collection[T]) Create(ctx context.Context, value T) (string, error) {
	client, err := c.provider.Client(ctx)
	if err != nil {
		return "", err
	}
	if c.name == "" {
		return "", errors.New("firestore: collection name is required")
	}
	doc := client.Collection(c.name).NewDoc()
	if _, err := doc.Create(ctx, value); err != nil {
		return "", WrapError(c.op("create"), err)
	}
	return doc.ID, nil
}

func (c *Collection[T]) doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &Error{Op: c.op("document"), Err: errors.New("document id is required")}
	}
	if c.name == "" {
		return nil, errors.New("firestore: collection name is required")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

func (c *Collection[T]) op(action string) string {
	name := c.name
	if name == "" {
		name = "firestore"
	}
	return name + "." + action
}
