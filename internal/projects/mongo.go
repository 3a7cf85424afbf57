// Package projects resolves room ids to project owners. The CRUD side of the
// platform owns the projects collection; this package only reads it.
package projects

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/fundmentor/signaling/internal/core"
	"github.com/fundmentor/signaling/internal/domain"
)

type projectDoc struct {
	ID    primitive.ObjectID `bson:"_id"`
	Owner primitive.ObjectID `bson:"owner"`
}

// MongoDirectory looks project owners up in the platform's document store.
type MongoDirectory struct {
	col *mongo.Collection
}

func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{col: db.Collection("projects")}
}

func (d *MongoDirectory) Owner(ctx context.Context, room domain.RoomID) (domain.UserID, error) {
	oid, err := primitive.ObjectIDFromHex(string(room))
	if err != nil {
		// A room id that is not a valid object id cannot back a project.
		return "", core.ErrProjectNotFound
	}
	var p projectDoc
	if err := d.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", core.ErrProjectNotFound
		}
		return "", fmt.Errorf("project lookup: %w", err)
	}
	return domain.UserID(p.Owner.Hex()), nil
}
