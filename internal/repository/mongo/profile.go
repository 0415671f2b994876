// Package mongo persists the engine profile. The settings service owns the
// document; this service reads it at startup and whenever the operator asks
// for a live re-plan.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"torrentd/internal/domain"
	"torrentd/internal/profile"
)

// profileID keys the single profile document. One deployment, one profile.
const profileID = "engine"

type profileDoc struct {
	ID        string          `bson:"_id"`
	Profile   profile.Profile `bson:"profile"`
	UpdatedAt int64           `bson:"updatedAt"`
}

type ProfileRepository struct {
	collection *mongo.Collection
}

func NewProfileRepository(client *mongo.Client, dbName, collectionName string) *ProfileRepository {
	return &ProfileRepository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Get loads the stored profile. Returns domain.ErrNotFound when nothing has
// been persisted yet; callers fall back to the default profile.
func (r *ProfileRepository) Get(ctx context.Context) (profile.Profile, error) {
	var doc profileDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": profileID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return profile.Profile{}, domain.ErrNotFound
		}
		return profile.Profile{}, err
	}
	return doc.Profile, nil
}

// Save upserts the profile document.
func (r *ProfileRepository) Save(ctx context.Context, p profile.Profile) error {
	update := bson.M{
		"$set": bson.M{
			"profile":   p,
			"updatedAt": time.Now().UTC().Unix(),
		},
	}
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": profileID},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}
